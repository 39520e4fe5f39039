// Package auth runs the token lifecycle against the remote API: the
// three-legged handshake, application-only bearer issuance and bearer
// invalidation.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"tweetcore/internal/common/errors"
	"tweetcore/internal/common/logging"
	"tweetcore/internal/credentials"
	"tweetcore/internal/executor"
	"tweetcore/internal/faults"
)

// Endpoint paths, relative to the API base URL
const (
	DefaultBaseURL      = "https://api.twitter.com/"
	RequestTokenPath    = "oauth/request_token"
	AuthorizePath       = "oauth/authorize"
	AccessTokenPath     = "oauth/access_token"
	BearerTokenPath     = "oauth2/token"
	InvalidateTokenPath = "oauth2/invalidate_token"

	// OutOfBandCallback makes the API show the verifier to the user as a PIN
	OutOfBandCallback = "oob"
)

// Executor is the part of *executor.Executor the manager needs
type Executor interface {
	Execute(ctx context.Context, req *executor.Request, creds credentials.CredentialSet) (*executor.Response, error)
}

// Manager runs the token lifecycle. It holds no credentials of its own.
type Manager struct {
	executor   Executor
	policy     *faults.Policy
	baseURL    string
	pending    PendingStore
	handshakes *gocache.Cache
	logger     logging.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithBaseURL points the manager at another API root
func WithBaseURL(baseURL string) Option {
	return func(m *Manager) {
		m.baseURL = baseURL
	}
}

// WithPendingStore replaces the in-memory pending token store
func WithPendingStore(store PendingStore) Option {
	return func(m *Manager) {
		m.pending = store
	}
}

// WithLogger sets the manager logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a lifecycle manager. policy must be the one the executor
// applies, so that parse failures land in the same failure log.
func NewManager(exec Executor, policy *faults.Policy, opts ...Option) *Manager {
	m := &Manager{
		executor:   exec,
		policy:     policy,
		baseURL:    DefaultBaseURL,
		handshakes: gocache.New(DefaultPendingTTL, DefaultPendingTTL),
	}
	for _, opt := range opts {
		opt(m)
	}
	if !strings.HasSuffix(m.baseURL, "/") {
		m.baseURL += "/"
	}
	if m.pending == nil {
		m.pending = NewMemoryPendingStore(DefaultPendingTTL, time.Minute)
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	m.logger = m.logger.WithFields(logging.String("component", "auth"))
	if m.policy == nil {
		m.policy = faults.NewPolicy(faults.DefaultConfig(), m.logger)
	}
	return m
}

func (m *Manager) url(path string) string {
	return m.baseURL + path
}

// HandshakeState returns the state of the attempt started with tokenID.
// Unknown or expired attempts report StateNoToken.
func (m *Manager) HandshakeState(tokenID string) State {
	if value, found := m.handshakes.Get(strings.TrimSpace(tokenID)); found {
		return value.(*Handshake).State()
	}
	return StateNoToken
}

func (m *Manager) handshakeFor(token *credentials.AuthenticationToken) *Handshake {
	if value, found := m.handshakes.Get(token.ID()); found {
		return value.(*Handshake)
	}
	// a token issued elsewhere has, by construction, completed the first leg
	h := newHandshake(StateTemporaryTokenRequested)
	m.handshakes.Set(token.ID(), h, gocache.DefaultExpiration)
	return h
}

// RequestTemporaryToken starts the three-legged handshake. callbackURL may be
// empty for the PIN-based out-of-band flow. A swallowed failure returns (nil, nil).
func (m *Manager) RequestTemporaryToken(ctx context.Context, appCreds credentials.CredentialSet, callbackURL string) (*credentials.AuthenticationToken, error) {
	if appCreds.ConsumerKey == "" || appCreds.ConsumerSecret == "" {
		return nil, errors.ConfigError("consumer key and consumer secret are required to request a token")
	}
	if callbackURL == "" {
		callbackURL = OutOfBandCallback
	}

	consumer := credentials.New(appCreds.ConsumerKey, appCreds.ConsumerSecret, "", "")
	endpoint := m.url(RequestTokenPath)
	resp, err := m.executor.Execute(ctx, &executor.Request{
		Method:                http.MethodPost,
		URL:                   endpoint,
		OAuthExtras:           map[string]string{"oauth_callback": callbackURL},
		SkipRateLimitTracking: true,
	}, consumer)
	if err != nil || resp == nil {
		return nil, err
	}

	values, err := url.ParseQuery(strings.TrimSpace(resp.Body))
	if err != nil || values.Get("oauth_token") == "" || values.Get("oauth_token_secret") == "" {
		return nil, m.policy.Handle(endpoint, resp.StatusCode, errors.ParseError("request token response is missing oauth_token or oauth_token_secret", err))
	}
	if values.Get("oauth_callback_confirmed") != "true" {
		return nil, m.policy.Handle(endpoint, resp.StatusCode, errors.ParseError("request token response did not confirm the callback", nil))
	}

	token := &credentials.AuthenticationToken{
		Token:               values.Get("oauth_token"),
		Secret:              values.Get("oauth_token_secret"),
		ConsumerCredentials: consumer,
		AuthorizationURL:    m.url(AuthorizePath) + "?oauth_token=" + url.QueryEscape(values.Get("oauth_token")),
		CallbackURL:         callbackURL,
	}

	h := newHandshake(StateNoToken)
	if err := h.advance(StateTemporaryTokenRequested); err != nil {
		return nil, errors.InternalError("failed to start handshake", err)
	}
	m.handshakes.Set(token.ID(), h, gocache.DefaultExpiration)

	if err := m.pending.Put(ctx, token); err != nil {
		return nil, errors.InternalError("failed to store pending token", err)
	}

	m.logger.Debug("Temporary token issued", logging.String("token_id", token.ID()))
	return token, nil
}

// GetCredentialsFromVerifierCode exchanges the verifier the user received for
// a permanent access token. An empty verifier or a nil token is rejected before
// any call and fails the attempt. A response without both token fields yields
// (nil, nil).
func (m *Manager) GetCredentialsFromVerifierCode(ctx context.Context, verifier string, token *credentials.AuthenticationToken) (*credentials.CredentialSet, error) {
	if token == nil || token.ID() == "" {
		return nil, errors.ConfigError("authentication token is required")
	}

	h := m.handshakeFor(token)
	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		err := errors.ConfigError("verifier code is required")
		h.fail(err)
		return nil, err
	}
	consumer := token.ConsumerCredentials
	if consumer.ConsumerKey == "" || consumer.ConsumerSecret == "" {
		err := errors.ConfigError("authentication token carries no consumer credentials")
		h.fail(err)
		return nil, err
	}

	if err := h.advance(StateVerifierReceived); err != nil {
		return nil, errors.ConfigError("authentication token was already used").WithContext("state", h.State().String())
	}
	if _, _, err := m.pending.Take(ctx, token.ID()); err != nil {
		m.logger.Warn("Could not remove pending token", logging.String("token_id", token.ID()), logging.Err(err))
	}

	signing := credentials.New(consumer.ConsumerKey, consumer.ConsumerSecret, token.Token, token.Secret)
	resp, err := m.executor.Execute(ctx, &executor.Request{
		Method:                http.MethodPost,
		URL:                   m.url(AccessTokenPath),
		OAuthExtras:           map[string]string{"oauth_verifier": verifier},
		SkipRateLimitTracking: true,
	}, signing)
	if err != nil {
		h.fail(err)
		return nil, err
	}
	if resp == nil {
		h.fail(errors.TransportError("access token exchange failed", nil))
		return nil, nil
	}

	creds, ok := parseAccessToken(resp.Body, consumer)
	if !ok {
		parseErr := errors.ParseError("access token response is missing oauth_token or oauth_token_secret", nil)
		h.fail(parseErr)
		m.logger.Warn("Access token exchange returned no credentials", logging.String("token_id", token.ID()))
		return nil, nil
	}

	if err := h.advance(StateAccessTokenIssued); err != nil {
		return nil, errors.InternalError("failed to complete handshake", err)
	}
	return &creds, nil
}

func parseAccessToken(body string, consumer credentials.CredentialSet) (credentials.CredentialSet, bool) {
	values, err := url.ParseQuery(strings.TrimSpace(body))
	if err != nil {
		return credentials.CredentialSet{}, false
	}
	token, secret := values.Get("oauth_token"), values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return credentials.CredentialSet{}, false
	}
	return credentials.New(consumer.ConsumerKey, consumer.ConsumerSecret, token, secret), true
}

// GetCredentialsFromCallbackURL completes the handshake from the URL the API
// redirected the user to. tokenID may be empty, in which case the oauth_token
// query parameter of the callback is used.
func (m *Manager) GetCredentialsFromCallbackURL(ctx context.Context, callbackURL, tokenID string) (*credentials.CredentialSet, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, errors.ConfigError("callback url is malformed").WithContext("url", callbackURL)
	}
	query := u.Query()

	verifier := query.Get("oauth_verifier")
	if verifier == "" {
		return nil, errors.ConfigError("callback url carries no oauth_verifier")
	}
	if tokenID == "" {
		tokenID = query.Get("oauth_token")
	}
	if strings.TrimSpace(tokenID) == "" {
		return nil, errors.ConfigError("authentication token id is required")
	}

	token, found, err := m.pending.Take(ctx, strings.TrimSpace(tokenID))
	if err != nil {
		return nil, errors.InternalError("failed to load pending token", err)
	}
	if !found {
		return nil, errors.ConfigError("no pending authentication token").WithContext("token_id", tokenID)
	}
	return m.GetCredentialsFromVerifierCode(ctx, verifier, token)
}

type bearerResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// InitializeApplicationBearer obtains an application-only bearer for creds and
// stores it in the pointed-to set. creds must carry no access token.
func (m *Manager) InitializeApplicationBearer(ctx context.Context, creds *credentials.CredentialSet) (bool, error) {
	if creds == nil {
		return false, errors.ConfigError("credentials are required")
	}
	if creds.AccessToken != "" || creds.AccessTokenSecret != "" {
		return false, errors.ConfigError("application bearer requires credentials without an access token")
	}

	endpoint := m.url(BearerTokenPath)
	resp, err := m.executor.Execute(ctx, &executor.Request{
		Method:                http.MethodPost,
		URL:                   endpoint,
		Parameters:            url.Values{"grant_type": {"client_credentials"}},
		Auth:                  executor.AuthBasic,
		SkipRateLimitTracking: true,
	}, *creds)
	if err != nil || resp == nil {
		return false, err
	}

	var body bearerResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil || body.AccessToken == "" {
		return false, m.policy.Handle(endpoint, resp.StatusCode, errors.ParseError("bearer response carries no access_token", err))
	}
	if body.TokenType != "" && !strings.EqualFold(body.TokenType, "bearer") {
		return false, m.policy.Handle(endpoint, resp.StatusCode, errors.ParseError("unexpected token type "+body.TokenType, nil))
	}

	*creds = creds.WithBearerToken(body.AccessToken)
	m.logger.Debug("Application bearer issued", logging.String("identity", creds.Identity().Key()))
	return true, nil
}

type invalidateResponse struct {
	AccessToken string `json:"access_token"`
}

// InvalidateCredentials revokes the bearer of creds. It reports whether the API
// confirmed the revocation and never fails: every problem is logged and
// recorded in the failure log when logging is on.
func (m *Manager) InvalidateCredentials(ctx context.Context, creds credentials.CredentialSet) bool {
	endpoint := m.url(InvalidateTokenPath)
	if creds.BearerToken == "" {
		m.logger.Warn("No bearer token to invalidate", logging.String("url", endpoint))
		return false
	}

	resp, err := m.executor.Execute(ctx, &executor.Request{
		Method:                http.MethodPost,
		URL:                   endpoint,
		Parameters:            url.Values{"access_token": {creds.BearerToken}},
		Auth:                  executor.AuthBasic,
		SkipRateLimitTracking: true,
	}, creds)
	if err != nil {
		// service and transport failures were already recorded by the executor
		if errors.IsConfiguration(err) {
			m.logger.Warn("Invalidation not attempted", logging.String("url", endpoint), logging.Err(err))
		}
		return false
	}
	if resp == nil {
		return false
	}

	var body invalidateResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err == nil && body.AccessToken != "" {
		return true
	}

	m.policy.Record(endpoint, resp.StatusCode, executor.ParseServiceError(resp.StatusCode, []byte(resp.Body)))
	return false
}
