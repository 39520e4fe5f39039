package testutil

import (
	"encoding/json"
	"strings"

	"tweetcore/internal/credentials"
)

// CredentialsBuilder helps build test credential sets
type CredentialsBuilder struct {
	creds credentials.CredentialSet
}

// NewCredentialsBuilder starts from a complete user-context set
func NewCredentialsBuilder() *CredentialsBuilder {
	return &CredentialsBuilder{creds: UserCredentials()}
}

func (b *CredentialsBuilder) WithConsumer(key, secret string) *CredentialsBuilder {
	b.creds.ConsumerKey = key
	b.creds.ConsumerSecret = secret
	return b
}

func (b *CredentialsBuilder) WithAccessToken(token, secret string) *CredentialsBuilder {
	b.creds.AccessToken = token
	b.creds.AccessTokenSecret = secret
	return b
}

func (b *CredentialsBuilder) WithBearerToken(token string) *CredentialsBuilder {
	b.creds.BearerToken = token
	return b
}

// ApplicationOnly drops the user context
func (b *CredentialsBuilder) ApplicationOnly() *CredentialsBuilder {
	b.creds.AccessToken = ""
	b.creds.AccessTokenSecret = ""
	return b
}

func (b *CredentialsBuilder) Build() credentials.CredentialSet {
	return b.creds
}

type statusEntry struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// RateLimitStatusBuilder builds application/rate_limit_status bodies
type RateLimitStatusBuilder struct {
	resources map[string]map[string]statusEntry
}

// NewRateLimitStatusBuilder creates an empty body builder
func NewRateLimitStatusBuilder() *RateLimitStatusBuilder {
	return &RateLimitStatusBuilder{resources: make(map[string]map[string]statusEntry)}
}

// WithEndpoint adds path, grouped under its first segment as the API does
func (b *RateLimitStatusBuilder) WithEndpoint(path string, limit, remaining int, reset int64) *RateLimitStatusBuilder {
	family := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
	if b.resources[family] == nil {
		b.resources[family] = make(map[string]statusEntry)
	}
	b.resources[family][path] = statusEntry{Limit: limit, Remaining: remaining, Reset: reset}
	return b
}

// WithDefaults adds the families most tests touch, all with quota left
func (b *RateLimitStatusBuilder) WithDefaults(reset int64) *RateLimitStatusBuilder {
	return b.
		WithEndpoint("/statuses/home_timeline", 15, 15, reset).
		WithEndpoint("/statuses/show/:id", 900, 899, reset).
		WithEndpoint("/users/show/:id", 900, 900, reset).
		WithEndpoint("/application/rate_limit_status", 180, 179, reset)
}

// Build renders the JSON body
func (b *RateLimitStatusBuilder) Build() string {
	body, _ := json.Marshal(map[string]interface{}{
		"rate_limit_context": map[string]string{"access_token": "6253282-access-token"},
		"resources":          b.resources,
	})
	return string(body)
}
