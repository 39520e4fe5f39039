package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tweetcore/internal/credentials"
	"tweetcore/internal/ratelimit"
)

// TrackerMode selects what happens before a request is sent
type TrackerMode int

const (
	// TrackerNone sends immediately
	TrackerNone TrackerMode = iota
	// TrackerTrackOnly checks the cached quota and warns when it is spent
	TrackerTrackOnly
	// TrackerTrackAndAwait waits for the reset when the cached quota is spent
	TrackerTrackAndAwait
)

func (m TrackerMode) String() string {
	switch m {
	case TrackerNone:
		return "none"
	case TrackerTrackOnly:
		return "track"
	case TrackerTrackAndAwait:
		return "await"
	default:
		return "unknown"
	}
}

// ParseTrackerMode accepts none, track and await
func ParseTrackerMode(s string) (TrackerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TrackerNone, nil
	case "track", "track_only", "trackonly":
		return TrackerTrackOnly, nil
	case "await", "track_and_await", "trackandawait":
		return TrackerTrackAndAwait, nil
	}
	return TrackerNone, fmt.Errorf("unknown rate limit tracker mode %q", s)
}

// RateLimitObserver receives the quota of every completed response
type RateLimitObserver interface {
	ObserveRateLimit(ctx context.Context, creds credentials.CredentialSet, rawURL string, limit *ratelimit.EndpointRateLimit)
}

// RateLimitSource serves the cached quota consulted before a send
type RateLimitSource interface {
	GetQueryRateLimit(ctx context.Context, rawURL string, creds credentials.CredentialSet) (*ratelimit.EndpointRateLimit, error)
}

// RateLimits is implemented by *ratelimit.Manager
type RateLimits interface {
	RateLimitObserver
	RateLimitSource
}

// QueryAwaitingEvent is passed to the waiting hook before the executor sleeps
type QueryAwaitingEvent struct {
	URL       string
	Identity  string
	RateLimit *ratelimit.EndpointRateLimit
	Wait      time.Duration
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
