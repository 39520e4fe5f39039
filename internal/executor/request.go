// Package executor sends one signed request to the remote API, classifies the
// outcome and routes failures through the fault policy.
package executor

import (
	"net/http"
	"net/url"
	"time"

	"tweetcore/internal/ratelimit"
)

// AuthScheme selects how the Authorization header is built
type AuthScheme int

const (
	// AuthOAuth signs with OAuth 1.0a, or sends the bearer for application-only sets
	AuthOAuth AuthScheme = iota
	// AuthBasic sends the consumer key and secret, as oauth2/token requires
	AuthBasic
	// AuthNone sends no Authorization header
	AuthNone
)

func (a AuthScheme) String() string {
	switch a {
	case AuthOAuth:
		return "oauth"
	case AuthBasic:
		return "basic"
	case AuthNone:
		return "none"
	default:
		return "unknown"
	}
}

// Request describes one call. Parameters go to the form body for POST and PUT
// and to the query string otherwise.
type Request struct {
	Method     string
	URL        string
	Parameters url.Values
	Headers    map[string]string
	Auth       AuthScheme
	// OAuthExtras adds protocol parameters such as oauth_callback to the signature
	OAuthExtras map[string]string
	// SkipRateLimitTracking bypasses the pre-send quota check
	SkipRateLimitTracking bool
}

// NewRequest creates an OAuth-signed request
func NewRequest(method, rawURL string, params url.Values) *Request {
	return &Request{Method: method, URL: rawURL, Parameters: params}
}

func (r *Request) hasBody() bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// Response is a completed call
type Response struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Duration   time.Duration
	// RateLimit is the quota carried by the response headers, if any
	RateLimit *ratelimit.EndpointRateLimit
}
