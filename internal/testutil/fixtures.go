package testutil

import (
	"tweetcore/internal/credentials"
)

// Consumer values shared by the fixtures
const (
	ConsumerKey       = "xvz1evFS4wEEPTGEFPHBog"
	ConsumerSecret    = "L8qq9PZyRg6ieKGEKhZolGC0vJWLw8iEJ88DRdyOg"
	AccessToken       = "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb"
	AccessTokenSecret = "LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE"
	BearerToken       = "AAAA1234"
)

// UserCredentials returns a complete user-context set
func UserCredentials() credentials.CredentialSet {
	return credentials.New(ConsumerKey, ConsumerSecret, AccessToken, AccessTokenSecret)
}

// ConsumerCredentials returns a set carrying only the consumer pair
func ConsumerCredentials() credentials.CredentialSet {
	return credentials.New(ConsumerKey, ConsumerSecret, "", "")
}

// ApplicationCredentials returns an application-only set
func ApplicationCredentials() credentials.CredentialSet {
	return credentials.NewApplication(ConsumerKey, ConsumerSecret, BearerToken)
}
