// Package oauth builds Authorization header values: OAuth 1.0a HMAC-SHA1
// signatures for user context, Bearer for application-only, and Basic for the
// bearer token endpoints.
package oauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"tweetcore/internal/common/errors"
	"tweetcore/internal/credentials"
)

const (
	signatureMethod = "HMAC-SHA1"
	version         = "1.0"
)

// Signer produces Authorization header values. It performs no I/O and is safe
// for concurrent use.
type Signer struct {
	now   func() time.Time
	nonce func() string
}

// Option configures a Signer
type Option func(*Signer)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// WithNonceSource overrides the nonce generator
func WithNonceSource(nonce func() string) Option {
	return func(s *Signer) {
		s.nonce = nonce
	}
}

// NewSigner creates a signer using the wall clock and random UUID nonces
func NewSigner(opts ...Option) *Signer {
	s := &Signer{
		now:   time.Now,
		nonce: randomNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sign returns the Authorization value for a request made with creds.
// Application-only sets get a Bearer header; everything else is OAuth signed.
func (s *Signer) Sign(method, rawURL string, params url.Values, creds credentials.CredentialSet) (string, error) {
	if creds.IsApplicationOnly() {
		return BearerAuthorization(creds)
	}
	return s.SignOAuth(method, rawURL, params, creds, nil)
}

// SignOAuth returns an OAuth 1.0a header. extras carries protocol parameters
// such as oauth_callback or oauth_verifier for the handshake legs.
func (s *Signer) SignOAuth(method, rawURL string, params url.Values, creds credentials.CredentialSet, extras map[string]string) (string, error) {
	if creds.ConsumerKey == "" || creds.ConsumerSecret == "" {
		return "", errors.ConfigError("consumer key and consumer secret are required to sign a request")
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.ConfigError("cannot sign malformed url").WithContext("url", rawURL)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     creds.ConsumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_version":          version,
	}
	if creds.AccessToken != "" {
		oauthParams["oauth_token"] = creds.AccessToken
	}
	for k, v := range extras {
		oauthParams[k] = v
	}

	all := make([]pair, 0, len(oauthParams)+len(params))
	for k, v := range oauthParams {
		all = append(all, pair{encode(k), encode(v)})
	}
	for k, values := range u.Query() {
		for _, v := range values {
			all = append(all, pair{encode(k), encode(v)})
		}
	}
	for k, values := range params {
		for _, v := range values {
			all = append(all, pair{encode(k), encode(v)})
		}
	}
	sortPairs(all)

	parameterString := joinPairs(all, "=", "&", false)
	base := strings.ToUpper(method) + "&" + encode(baseURL(u)) + "&" + encode(parameterString)
	key := encode(creds.ConsumerSecret) + "&" + encode(creds.AccessTokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	header := make([]pair, 0, len(oauthParams))
	for k, v := range oauthParams {
		header = append(header, pair{encode(k), encode(v)})
	}
	sortPairs(header)

	return "OAuth " + joinPairs(header, "=", ", ", true), nil
}

// BearerAuthorization returns "Bearer <token>" for an application-only set
func BearerAuthorization(creds credentials.CredentialSet) (string, error) {
	if creds.BearerToken == "" {
		return "", errors.ConfigError("bearer token is required for application-only requests")
	}
	return "Bearer " + creds.BearerToken, nil
}

// BasicAuthorization returns the Basic header used by oauth2/token and
// oauth2/invalidate_token.
func BasicAuthorization(creds credentials.CredentialSet) (string, error) {
	if creds.ConsumerKey == "" || creds.ConsumerSecret == "" {
		return "", errors.ConfigError("consumer key and consumer secret are required for basic authorization")
	}
	raw := url.QueryEscape(creds.ConsumerKey) + ":" + url.QueryEscape(creds.ConsumerSecret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

type pair struct {
	key, value string
}

func sortPairs(pairs []pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key == pairs[j].key {
			return pairs[i].value < pairs[j].value
		}
		return pairs[i].key < pairs[j].key
	})
}

func joinPairs(pairs []pair, kv, sep string, quote bool) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p.key)
		b.WriteString(kv)
		if quote {
			b.WriteByte('"')
		}
		b.WriteString(p.value)
		if quote {
			b.WriteByte('"')
		}
	}
	return b.String()
}

func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// encode percent-encodes s per RFC 3986, leaving only unreserved characters.
func encode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
