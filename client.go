// Package tweetcore is the request-execution core of a Twitter REST client:
// OAuth signing, request execution with a configurable fault policy, the token
// lifecycle and per-credential rate limit tracking.
//
// A Client is built from a Config and is safe for concurrent use. Credentials
// are scoped per operation with RunWithCredentials, falling back to the
// application credentials of the Config.
//
//	client, err := tweetcore.New(tweetcore.LoadConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.RunWithCredentials(ctx, user, func(ctx context.Context) error {
//		resp, err := client.Execute(ctx, client.NewRequest(http.MethodGet, "1.1/statuses/home_timeline.json", nil))
//		...
//	})
package tweetcore

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tweetcore/internal/auth"
	"tweetcore/internal/circuitbreaker"
	"tweetcore/internal/common/errors"
	commonhttp "tweetcore/internal/common/http"
	"tweetcore/internal/common/logging"
	"tweetcore/internal/common/pacer"
	"tweetcore/internal/config"
	"tweetcore/internal/credentials"
	"tweetcore/internal/executor"
	"tweetcore/internal/faults"
	"tweetcore/internal/oauth"
	"tweetcore/internal/ratelimit"
	"tweetcore/internal/redis"
)

// RateLimitStatusPath is the status endpoint, relative to the base URL
const RateLimitStatusPath = "1.1/application/rate_limit_status.json"

// Client wires every component together
type Client struct {
	config      config.Config
	logger      logging.Logger
	policy      *faults.Policy
	executor    *executor.Executor
	rateLimits  *ratelimit.Manager
	auth        *auth.Manager
	credentials *credentials.Context
	redis       *redis.Client
}

type options struct {
	logger        logging.Logger
	httpClient    *http.Client
	signer        *oauth.Signer
	store         ratelimit.Store
	pending       auth.PendingStore
	waitingHook   func(QueryAwaitingEvent)
	sleeper       func(ctx context.Context, d time.Duration) error
	breakerConfig *circuitbreaker.Config
}

// Option customises a Client beyond what Config expresses
type Option func(*options)

// WithLogger replaces the zap logger built from Config.LogLevel
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client built from Config.HTTPTimeout
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithSigner replaces the OAuth signer, typically to fix clock and nonce in tests
func WithSigner(signer *oauth.Signer) Option {
	return func(o *options) {
		o.signer = signer
	}
}

// WithRateLimitStore replaces the rate limit store chosen from Config
func WithRateLimitStore(store ratelimit.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithPendingStore replaces the store of pending handshake tokens
func WithPendingStore(store auth.PendingStore) Option {
	return func(o *options) {
		o.pending = store
	}
}

// WithWaitingHook is called before a request waits for a rate limit reset
func WithWaitingHook(hook func(QueryAwaitingEvent)) Option {
	return func(o *options) {
		o.waitingHook = hook
	}
}

// WithSleeper replaces the wait used in await tracking mode
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleeper = sleep
	}
}

// WithCircuitBreakerConfig tunes the per-host breakers enabled by Config.CircuitBreaker
func WithCircuitBreakerConfig(cfg circuitbreaker.Config) Option {
	return func(o *options) {
		o.breakerConfig = &cfg
	}
}

// New builds a client. A nil cfg means DefaultConfig().
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError("invalid configuration: " + err.Error())
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{config: *cfg}
	c.config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/"

	c.logger = o.logger
	if c.logger == nil {
		logger, err := logging.NewZapLogger(cfg.LogConfig())
		if err != nil {
			return nil, errors.InternalError("failed to build logger", err)
		}
		c.logger = logger
	}
	c.policy = faults.NewPolicy(cfg.FaultConfig(), c.logger)

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = commonhttp.NewHTTPClient(commonhttp.WithTimeout(cfg.HTTPTimeout))
	}

	store := o.store
	pending := o.pending
	if redisConfig := cfg.RedisConfig(); redisConfig != nil && (store == nil || pending == nil) {
		client, err := redis.NewClient(redisConfig)
		if err != nil {
			return nil, errors.TransportError("failed to connect to redis", err).WithContext("address", redisConfig.Address)
		}
		c.redis = client
		if store == nil {
			store = ratelimit.NewRedisStore(client, "", 0)
		}
		if pending == nil {
			pending = auth.NewRedisPendingStore(client, "", auth.DefaultPendingTTL)
		}
	}

	tracking, err := cfg.TrackerMode()
	if err != nil {
		return nil, errors.ConfigError(err.Error())
	}
	p, err := pacer.New(cfg.PacerConfig())
	if err != nil {
		return nil, errors.ConfigError(err.Error())
	}

	managerOpts := []ratelimit.Option{
		ratelimit.WithStatusURL(c.URL(RateLimitStatusPath)),
		ratelimit.WithLogger(c.logger),
	}
	if cfg.Singleflight {
		managerOpts = append(managerOpts, ratelimit.WithSingleflight())
	}
	// the manager refreshes through the executor, which reports back to the manager
	c.rateLimits = ratelimit.NewManager(store, ratelimit.FetcherFunc(func(ctx context.Context, rawURL string, creds credentials.CredentialSet) (string, bool, error) {
		return c.executor.Fetch(ctx, rawURL, creds)
	}), managerOpts...)

	execOpts := []executor.Option{
		executor.WithLogger(c.logger),
		executor.WithRateLimits(c.rateLimits),
		executor.WithTrackerMode(tracking),
		executor.WithPacer(p),
	}
	if cfg.CircuitBreaker {
		breakerConfig := circuitbreaker.DefaultConfig()
		if o.breakerConfig != nil {
			breakerConfig = *o.breakerConfig
		}
		execOpts = append(execOpts, executor.WithCircuitBreakers(circuitbreaker.NewRegistry(breakerConfig, c.logger)))
	}
	if o.waitingHook != nil {
		execOpts = append(execOpts, executor.WithWaitingHook(o.waitingHook))
	}
	if o.sleeper != nil {
		execOpts = append(execOpts, executor.WithSleeper(o.sleeper))
	}
	c.executor = executor.New(httpClient, o.signer, c.policy, execOpts...)

	authOpts := []auth.Option{
		auth.WithBaseURL(c.config.BaseURL),
		auth.WithLogger(c.logger),
	}
	if pending != nil {
		authOpts = append(authOpts, auth.WithPendingStore(pending))
	}
	c.auth = auth.NewManager(c.executor, c.policy, authOpts...)

	var application *credentials.CredentialSet
	if creds := cfg.Credentials(); !creds.IsZero() {
		application = &creds
	}
	c.credentials = credentials.NewContext(application)

	c.logger.Debug("Client ready",
		logging.String("base_url", c.config.BaseURL),
		logging.String("tracking", tracking.String()),
		logging.Bool("shared_cache", c.redis != nil),
	)
	return c, nil
}

// Close flushes the logger and releases the Redis connection, if one was opened
func (c *Client) Close() error {
	if zapLogger, ok := c.logger.(*logging.ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// URL resolves path against the base URL. Absolute URLs are returned unchanged.
func (c *Client) URL(path string) string {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	return c.config.BaseURL + strings.TrimPrefix(path, "/")
}

// NewRequest builds an OAuth-signed request for path, resolved against the base URL
func (c *Client) NewRequest(method, path string, params url.Values) *Request {
	return executor.NewRequest(method, c.URL(path), params)
}

// Policy returns the fault policy, whose failure log callers may inspect
func (c *Client) Policy() *faults.Policy {
	return c.policy
}

// RateLimits returns the rate limit manager
func (c *Client) RateLimits() *ratelimit.Manager {
	return c.rateLimits
}

// Auth returns the token lifecycle manager
func (c *Client) Auth() *auth.Manager {
	return c.auth
}

// Credentials returns the credentials context
func (c *Client) Credentials() *credentials.Context {
	return c.credentials
}

// SetApplicationCredentials replaces the credentials used outside RunWithCredentials
func (c *Client) SetApplicationCredentials(creds CredentialSet) {
	c.credentials.SetApplicationCredentials(creds)
}

// CurrentCredentials returns the credentials in scope for ctx
func (c *Client) CurrentCredentials(ctx context.Context) (CredentialSet, bool) {
	return c.credentials.Current(ctx)
}

// RunWithCredentials runs op with creds in scope. The credentials of ctx are
// untouched once op returns, panics or fails.
func (c *Client) RunWithCredentials(ctx context.Context, creds CredentialSet, op func(ctx context.Context) error) error {
	return c.credentials.ExecuteOperationWithCredentials(ctx, creds, op)
}

func (c *Client) current(ctx context.Context) (CredentialSet, error) {
	creds, ok := c.credentials.Current(ctx)
	if !ok {
		return CredentialSet{}, errors.ConfigError("no credentials in scope and no application credentials configured")
	}
	return creds, nil
}

// Execute sends req with the credentials in scope for ctx. A swallowed failure
// returns (nil, nil).
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	creds, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.executor.Execute(ctx, req, creds)
}

// ExecuteWithCredentials sends req as creds, ignoring the credentials in scope
func (c *Client) ExecuteWithCredentials(ctx context.Context, req *Request, creds CredentialSet) (*Response, error) {
	return c.executor.Execute(ctx, req, creds)
}

// GetRateLimit returns the cached quota of path for the credentials in scope.
// It is advisory: the first query for new credentials refreshes the cache, and
// an unknown endpoint reports the unknown/allowed sentinel.
func (c *Client) GetRateLimit(ctx context.Context, path string) (*EndpointRateLimit, error) {
	creds, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.rateLimits.GetQueryRateLimit(ctx, c.URL(path), creds)
}

// GetCredentialsRateLimits returns every cached quota of the credentials in scope
func (c *Client) GetCredentialsRateLimits(ctx context.Context) (*CredentialsRateLimits, error) {
	creds, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.rateLimits.GetCredentialsRateLimits(ctx, creds)
}

// RefreshRateLimits queries the status endpoint for the credentials in scope
func (c *Client) RefreshRateLimits(ctx context.Context) (*CredentialsRateLimits, error) {
	creds, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.rateLimits.RefreshCredentialsRateLimits(ctx, creds)
}

// RequestTemporaryToken starts the handshake with the consumer pair in scope
func (c *Client) RequestTemporaryToken(ctx context.Context, callbackURL string) (*AuthenticationToken, error) {
	creds, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.auth.RequestTemporaryToken(ctx, creds, callbackURL)
}

// GetCredentialsFromVerifierCode completes the handshake with the verifier the user received
func (c *Client) GetCredentialsFromVerifierCode(ctx context.Context, verifier string, token *AuthenticationToken) (*CredentialSet, error) {
	return c.auth.GetCredentialsFromVerifierCode(ctx, verifier, token)
}

// GetCredentialsFromCallbackURL completes the handshake from the callback redirect
func (c *Client) GetCredentialsFromCallbackURL(ctx context.Context, callbackURL, tokenID string) (*CredentialSet, error) {
	return c.auth.GetCredentialsFromCallbackURL(ctx, callbackURL, tokenID)
}

// InitializeApplicationBearer obtains a bearer and stores it in creds
func (c *Client) InitializeApplicationBearer(ctx context.Context, creds *CredentialSet) (bool, error) {
	return c.auth.InitializeApplicationBearer(ctx, creds)
}

// InvalidateCredentials revokes the bearer of creds. It never fails.
func (c *Client) InvalidateCredentials(ctx context.Context, creds CredentialSet) bool {
	return c.auth.InvalidateCredentials(ctx, creds)
}

// InvalidateCurrentCredentials revokes the bearer of the credentials in scope
func (c *Client) InvalidateCurrentCredentials(ctx context.Context) bool {
	creds, ok := c.credentials.Current(ctx)
	if !ok {
		c.logger.Warn("No credentials to invalidate")
		return false
	}
	return c.auth.InvalidateCredentials(ctx, creds)
}
