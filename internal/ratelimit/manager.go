package ratelimit

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
	"tweetcore/internal/common/errors"
	"tweetcore/internal/common/logging"
	"tweetcore/internal/credentials"
)

// DefaultStatusURL is the rate limit status endpoint
const DefaultStatusURL = "https://api.twitter.com/1.1/application/rate_limit_status.json"

// Fetcher performs the signed GET of the status endpoint. ok is false when the
// call failed and the fault policy swallowed the failure.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, creds credentials.CredentialSet) (body string, ok bool, err error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, rawURL string, creds credentials.CredentialSet) (string, bool, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string, creds credentials.CredentialSet) (string, bool, error) {
	return f(ctx, rawURL, creds)
}

// Manager serves cached quota and refreshes it from the remote service
type Manager struct {
	store     Store
	fetcher   Fetcher
	statusURL string
	logger    logging.Logger
	now       func() time.Time
	group     *singleflight.Group
}

// Option configures a Manager
type Option func(*Manager)

// WithStatusURL overrides the status endpoint
func WithStatusURL(statusURL string) Option {
	return func(m *Manager) {
		m.statusURL = statusURL
	}
}

// WithLogger sets the manager logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source used for staleness decisions
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSingleflight collapses concurrent refreshes of one identity into a
// single remote call.
func WithSingleflight() Option {
	return func(m *Manager) {
		m.group = &singleflight.Group{}
	}
}

// NewManager creates a manager over store. A nil store uses a fresh Cache.
func NewManager(store Store, fetcher Fetcher, opts ...Option) *Manager {
	if store == nil {
		store = NewCache()
	}
	m := &Manager{
		store:     store,
		fetcher:   fetcher,
		statusURL: DefaultStatusURL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	m.logger = m.logger.WithFields(logging.String("component", "ratelimit"))
	return m
}

// Store returns the underlying store
func (m *Manager) Store() Store {
	return m.store
}

// StatusURL returns the endpoint used by refreshes
func (m *Manager) StatusURL() string {
	return m.statusURL
}

// GetQueryRateLimit returns the quota for rawURL under creds. An identity that
// has never been seen is refreshed first; an unknown family yields the
// unknown/allowed sentinel, which is remembered for the identity.
func (m *Manager) GetQueryRateLimit(ctx context.Context, rawURL string, creds credentials.CredentialSet) (*EndpointRateLimit, error) {
	limits, err := m.GetCredentialsRateLimits(ctx, creds)
	if err != nil {
		return nil, err
	}
	if limits == nil {
		return UnknownEndpointRateLimit(), nil
	}

	if limit, _, ok := limits.Find(rawURL); ok {
		return limit.Clone(), nil
	}

	sentinel := limits.Lookup(rawURL)
	if _, err := m.store.SetEndpoint(ctx, creds.Identity(), rawURL, sentinel); err != nil {
		m.logger.Warn("Failed to remember unknown endpoint", logging.String("url", rawURL), logging.Err(err))
	}
	return sentinel.Clone(), nil
}

// GetCredentialsRateLimits returns every cached quota for creds, refreshing
// when the identity is absent. A nil result with a nil error means the refresh
// failed and the failure was swallowed.
func (m *Manager) GetCredentialsRateLimits(ctx context.Context, creds credentials.CredentialSet) (*CredentialsRateLimits, error) {
	limits, ok, err := m.store.Get(ctx, creds.Identity())
	if err != nil {
		return nil, err
	}
	if ok {
		return limits, nil
	}
	return m.RefreshCredentialsRateLimits(ctx, creds)
}

// UpdateCredentialsRateLimits overwrites the cached quota of creds
func (m *Manager) UpdateCredentialsRateLimits(ctx context.Context, creds credentials.CredentialSet, limits *CredentialsRateLimits) error {
	return m.store.Set(ctx, creds.Identity(), limits)
}

// RefreshCredentialsRateLimits queries the status endpoint and replaces the
// cached quota of creds once the call has completed.
//
// With singleflight the shared refresh outlives the caller that started it;
// each caller stops waiting when its own ctx is done.
func (m *Manager) RefreshCredentialsRateLimits(ctx context.Context, creds credentials.CredentialSet) (*CredentialsRateLimits, error) {
	if m.group == nil {
		return m.refresh(ctx, creds)
	}

	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(creds.Identity().Key(), func() (interface{}, error) {
		return m.refresh(shared, creds)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("Shared rate limit refresh", logging.String("identity", creds.Identity().Key()))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		limits, _ := res.Val.(*CredentialsRateLimits)
		return limits.Clone(), nil
	}
}

func (m *Manager) refresh(ctx context.Context, creds credentials.CredentialSet) (*CredentialsRateLimits, error) {
	if m.fetcher == nil {
		return nil, errors.ConfigError("rate limit manager has no fetcher")
	}

	body, ok, err := m.fetcher.Fetch(ctx, m.statusURL, creds)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	limits, err := ParseStatus([]byte(body), m.now())
	if err != nil {
		return nil, errors.AsServiceError(err, 200)
	}

	if err := m.store.Set(ctx, creds.Identity(), limits); err != nil {
		return nil, err
	}
	m.logger.Debug("Refreshed rate limits",
		logging.String("identity", creds.Identity().Key()),
		logging.Int("endpoints", len(limits.Resources)),
	)
	return limits, nil
}

// ShouldEndpointCacheBeUpdated is advisory: true for the unknown sentinel, or
// when the quota is spent and its reset time has passed.
func (m *Manager) ShouldEndpointCacheBeUpdated(limit *EndpointRateLimit) bool {
	return ShouldEndpointCacheBeUpdated(limit, m.now())
}

// ShouldEndpointCacheBeUpdated evaluates the staleness rule at now
func ShouldEndpointCacheBeUpdated(limit *EndpointRateLimit, now time.Time) bool {
	if limit == nil || limit.IsUnknown {
		return true
	}
	return limit.Remaining == 0 && !now.Before(limit.ResetTime())
}

// ObserveRateLimit records the quota carried by a completed response. Only
// identities already in the store are updated; the first query for a new
// identity performs the full refresh.
func (m *Manager) ObserveRateLimit(ctx context.Context, creds credentials.CredentialSet, rawURL string, limit *EndpointRateLimit) {
	if limit == nil {
		return
	}
	updated, err := m.store.SetEndpoint(ctx, creds.Identity(), rawURL, limit)
	if err != nil {
		m.logger.Warn("Failed to record rate limit headers", logging.String("url", rawURL), logging.Err(err))
		return
	}
	if updated {
		m.logger.Debug("Recorded rate limit headers",
			logging.String("endpoint", EndpointKey(rawURL)),
			logging.Int("remaining", limit.Remaining),
			logging.Int("limit", limit.Limit),
		)
	}
}
