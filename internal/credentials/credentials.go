// Package credentials holds the credential types shared by the signer,
// executor, auth lifecycle and rate limit cache, plus the per-operation
// credentials context.
package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CredentialSet identifies who is making a request.
//
// A set is either user context (consumer key/secret plus access token/secret)
// or application-only (consumer key/secret plus bearer token). Treat values as
// immutable: the With* helpers return modified copies.
type CredentialSet struct {
	ConsumerKey       string `json:"consumer_key"`
	ConsumerSecret    string `json:"consumer_secret"`
	AccessToken       string `json:"access_token,omitempty"`
	AccessTokenSecret string `json:"access_token_secret,omitempty"`
	BearerToken       string `json:"bearer_token,omitempty"`
}

// New creates a user-context credential set
func New(consumerKey, consumerSecret, accessToken, accessTokenSecret string) CredentialSet {
	return CredentialSet{
		ConsumerKey:       consumerKey,
		ConsumerSecret:    consumerSecret,
		AccessToken:       accessToken,
		AccessTokenSecret: accessTokenSecret,
	}
}

// NewApplication creates an application-only credential set
func NewApplication(consumerKey, consumerSecret, bearerToken string) CredentialSet {
	return CredentialSet{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		BearerToken:    bearerToken,
	}
}

// HasUserContext reports whether an access token pair is present
func (c CredentialSet) HasUserContext() bool {
	return c.AccessToken != "" || c.AccessTokenSecret != ""
}

// IsApplicationOnly reports whether requests should carry the bearer token
func (c CredentialSet) IsApplicationOnly() bool {
	return !c.HasUserContext() && c.BearerToken != ""
}

// IsZero reports whether no field is set
func (c CredentialSet) IsZero() bool {
	return c == CredentialSet{}
}

// WithBearerToken returns a copy carrying bearer
func (c CredentialSet) WithBearerToken(bearer string) CredentialSet {
	c.BearerToken = bearer
	return c
}

// WithAccessToken returns a copy carrying the access token pair
func (c CredentialSet) WithAccessToken(token, secret string) CredentialSet {
	c.AccessToken = token
	c.AccessTokenSecret = secret
	return c
}

// Identity returns the cache key for this set
func (c CredentialSet) Identity() Identity {
	if c.IsApplicationOnly() {
		return Identity{BearerToken: c.BearerToken}
	}
	return Identity{ConsumerKey: c.ConsumerKey, AccessToken: c.AccessToken}
}

// Identity is the rate limit scope of a credential set: (consumer key, access
// token) for user context, or the bearer token alone for application-only.
type Identity struct {
	ConsumerKey string
	AccessToken string
	BearerToken string
}

// IsApplicationOnly reports whether this identity is a bearer identity
func (i Identity) IsApplicationOnly() bool {
	return i.BearerToken != ""
}

// Key is a stable, secret-free string form of the identity, suitable for
// map keys shared across processes and for log fields.
func (i Identity) Key() string {
	var raw string
	var kind string
	if i.IsApplicationOnly() {
		kind, raw = "app", i.BearerToken
	} else {
		kind, raw = "user", i.ConsumerKey+"\x00"+i.AccessToken
	}
	sum := sha256.Sum256([]byte(raw))
	return kind + ":" + hex.EncodeToString(sum[:12])
}

// String renders the fingerprint, never the raw tokens
func (i Identity) String() string {
	return i.Key()
}

// AuthenticationToken is the temporary request token issued at the start of the
// three-legged handshake. It is consumed once by the verifier exchange.
type AuthenticationToken struct {
	Token               string        `json:"token"`
	Secret              string        `json:"secret"`
	ConsumerCredentials CredentialSet `json:"consumer_credentials"`
	AuthorizationURL    string        `json:"authorization_url"`
	CallbackURL         string        `json:"callback_url,omitempty"`
}

// ID is the key under which the pending token is stored
func (t *AuthenticationToken) ID() string {
	return strings.TrimSpace(t.Token)
}
