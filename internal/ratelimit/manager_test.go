package ratelimit

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tweetcore/internal/common/errors"
	"tweetcore/internal/common/logging"
	"tweetcore/internal/credentials"
)

type countingFetcher struct {
	calls int32
	body  string
	ok    bool
	err   error
	delay time.Duration
	urls  chan string
}

func newFetcher(body string) *countingFetcher {
	return &countingFetcher{body: body, ok: true}
}

func (f *countingFetcher) Fetch(ctx context.Context, rawURL string, creds credentials.CredentialSet) (string, bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.urls != nil {
		f.urls <- rawURL
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.body, f.ok, f.err
}

func (f *countingFetcher) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

var (
	userA = credentials.New("ck", "cs", "token-a", "secret-a")
	userB = credentials.New("ck", "cs", "token-b", "secret-b")
)

const homeTimeline = "https://api.twitter.com/1.1/statuses/home_timeline.json"

func newTestManager(fetcher Fetcher, opts ...Option) *Manager {
	opts = append([]Option{WithLogger(logging.NopLogger{})}, opts...)
	return NewManager(NewCache(), fetcher, opts...)
}

func TestManager_GetQueryRateLimit_ColdCache(t *testing.T) {
	fetcher := newFetcher(statusBody)
	m := newTestManager(fetcher)
	ctx := context.Background()

	limit, err := m.GetQueryRateLimit(ctx, "https://api.twitter.com/1.1/never/seen.json", userA)
	require.NoError(t, err)
	assert.True(t, limit.IsUnknown)
	assert.Equal(t, 1, fetcher.Calls(), "cold identity triggers exactly one refresh")

	limit, err = m.GetQueryRateLimit(ctx, "https://api.twitter.com/1.1/never/seen.json", userA)
	require.NoError(t, err)
	assert.True(t, limit.IsUnknown)
	assert.Equal(t, 1, fetcher.Calls())

	stored, _, err := m.Store().Get(ctx, userA.Identity())
	require.NoError(t, err)
	assert.Contains(t, stored.Other, "/never/seen")
}

func TestManager_GetQueryRateLimit_KnownFamily(t *testing.T) {
	fetcher := newFetcher(statusBody)
	m := newTestManager(fetcher)

	limit, err := m.GetQueryRateLimit(context.Background(), "https://api.twitter.com/1.1/statuses/show/42.json", userA)
	require.NoError(t, err)
	assert.Equal(t, 900, limit.Limit)
	assert.Equal(t, 899, limit.Remaining)

	// callers get copies
	limit.Remaining = 0
	again, err := m.GetQueryRateLimit(context.Background(), "https://api.twitter.com/1.1/statuses/show/42.json", userA)
	require.NoError(t, err)
	assert.Equal(t, 899, again.Remaining)
}

func TestManager_UpdateThenGetRoundTrip(t *testing.T) {
	fetcher := newFetcher(statusBody)
	m := newTestManager(fetcher)
	ctx := context.Background()

	limits := NewCredentialsRateLimits()
	limits.Resources["/statuses/home_timeline"] = NewEndpointRateLimit(15, 3, 1700000000)

	require.NoError(t, m.UpdateCredentialsRateLimits(ctx, userA, limits))

	got, err := m.GetCredentialsRateLimits(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, limits, got)
	assert.Equal(t, 0, fetcher.Calls())
}

func TestManager_UpdateThenGetKeepsNilOther(t *testing.T) {
	m := newTestManager(newFetcher(statusBody))
	ctx := context.Background()

	limits := &CredentialsRateLimits{
		Resources:   map[string]*EndpointRateLimit{"/statuses/home_timeline": NewEndpointRateLimit(15, 3, 1700000000)},
		RetrievedAt: time.Unix(1700000000, 0),
	}
	require.NoError(t, m.UpdateCredentialsRateLimits(ctx, userA, limits))

	got, err := m.GetCredentialsRateLimits(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, limits, got)
}

func TestManager_CredentialIsolation(t *testing.T) {
	fetcher := newFetcher(statusBody)
	m := newTestManager(fetcher)
	ctx := context.Background()

	limitsA := NewCredentialsRateLimits()
	limitsA.Resources["/statuses/home_timeline"] = NewEndpointRateLimit(15, 7, 1700000000)
	require.NoError(t, m.UpdateCredentialsRateLimits(ctx, userA, limitsA))

	_, err := m.RefreshCredentialsRateLimits(ctx, userB)
	require.NoError(t, err)
	m.ObserveRateLimit(ctx, userB, homeTimeline, NewEndpointRateLimit(15, 0, 1700000000))
	_, err = m.GetQueryRateLimit(ctx, "https://api.twitter.com/1.1/x/y.json", userB)
	require.NoError(t, err)

	got, err := m.GetCredentialsRateLimits(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, limitsA, got)

	gotB, err := m.GetCredentialsRateLimits(ctx, userB)
	require.NoError(t, err)
	assert.Equal(t, 0, gotB.Resources["/statuses/home_timeline"].Remaining)
}

func TestManager_RefreshSwallowed(t *testing.T) {
	fetcher := &countingFetcher{ok: false}
	m := newTestManager(fetcher)
	ctx := context.Background()

	limits, err := m.GetCredentialsRateLimits(ctx, userA)
	require.NoError(t, err)
	assert.Nil(t, limits)

	limit, err := m.GetQueryRateLimit(ctx, homeTimeline, userA)
	require.NoError(t, err)
	assert.True(t, limit.IsUnknown)

	_, ok, err := m.Store().Get(ctx, userA.Identity())
	require.NoError(t, err)
	assert.False(t, ok, "nothing is cached when the refresh failed")
}

func TestManager_RefreshErrors(t *testing.T) {
	t.Run("fetch error propagates", func(t *testing.T) {
		boom := errors.TransportError("dial tcp: connection refused", nil)
		m := newTestManager(&countingFetcher{err: boom})

		_, err := m.GetQueryRateLimit(context.Background(), homeTimeline, userA)
		assert.True(t, errors.IsTransport(err))
	})

	t.Run("unparseable body becomes service error", func(t *testing.T) {
		m := newTestManager(newFetcher("<html>oops</html>"))

		_, err := m.RefreshCredentialsRateLimits(context.Background(), userA)
		require.Error(t, err)
		var appErr *errors.AppError
		require.True(t, stderrors.As(err, &appErr))
		assert.Equal(t, errors.ErrTypeService, appErr.Type)
		assert.True(t, appErr.HasCode(errors.CodeUnparseableBody))
	})

	t.Run("missing fetcher", func(t *testing.T) {
		m := newTestManager(nil)
		_, err := m.RefreshCredentialsRateLimits(context.Background(), userA)
		assert.True(t, errors.IsConfiguration(err))
	})
}

func TestManager_RefreshUsesStatusURL(t *testing.T) {
	fetcher := newFetcher(statusBody)
	fetcher.urls = make(chan string, 1)
	m := newTestManager(fetcher, WithStatusURL("http://localhost/1.1/application/rate_limit_status.json"))

	_, err := m.RefreshCredentialsRateLimits(context.Background(), userA)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/1.1/application/rate_limit_status.json", <-fetcher.urls)
	assert.Equal(t, "http://localhost/1.1/application/rate_limit_status.json", m.StatusURL())
}

func TestShouldEndpointCacheBeUpdated(t *testing.T) {
	now := time.Unix(1_000_000, 0)

	for _, remaining := range []int{0, 1, 5} {
		for _, resetOffset := range []int64{-60, -1, 0, 1, 60} {
			limit := NewEndpointRateLimit(15, remaining, now.Unix()+resetOffset)
			want := remaining == 0 && resetOffset <= 0
			assert.Equal(t, want, ShouldEndpointCacheBeUpdated(limit, now),
				"remaining=%d resetOffset=%d", remaining, resetOffset)
		}
	}

	assert.True(t, ShouldEndpointCacheBeUpdated(UnknownEndpointRateLimit(), now))
	assert.True(t, ShouldEndpointCacheBeUpdated(nil, now))

	m := newTestManager(nil, WithClock(func() time.Time { return now }))
	assert.True(t, m.ShouldEndpointCacheBeUpdated(NewEndpointRateLimit(15, 0, now.Unix())))
	assert.False(t, m.ShouldEndpointCacheBeUpdated(NewEndpointRateLimit(15, 0, now.Unix()+1)))
}

func TestManager_ObserveRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown identity is not created", func(t *testing.T) {
		m := newTestManager(newFetcher(statusBody))
		m.ObserveRateLimit(ctx, userA, homeTimeline, NewEndpointRateLimit(15, 2, 1))

		_, ok, err := m.Store().Get(ctx, userA.Identity())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("known identity is updated in place", func(t *testing.T) {
		fetcher := newFetcher(statusBody)
		m := newTestManager(fetcher)
		_, err := m.RefreshCredentialsRateLimits(ctx, userA)
		require.NoError(t, err)

		m.ObserveRateLimit(ctx, userA, homeTimeline, NewEndpointRateLimit(15, 2, 1403602426))
		m.ObserveRateLimit(ctx, userA, homeTimeline, nil)

		limit, err := m.GetQueryRateLimit(ctx, homeTimeline, userA)
		require.NoError(t, err)
		assert.Equal(t, 2, limit.Remaining)
		assert.Equal(t, 1, fetcher.Calls())
	})
}

func TestManager_SingleflightDeduplicatesColdRefresh(t *testing.T) {
	fetcher := newFetcher(statusBody)
	fetcher.delay = 50 * time.Millisecond
	m := newTestManager(fetcher, WithSingleflight())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			limits, err := m.GetCredentialsRateLimits(context.Background(), userA)
			assert.NoError(t, err)
			assert.Len(t, limits.Resources, 3)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, fetcher.Calls())
}

func TestManager_SingleflightSurvivesLeaderCancel(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	fetcher := FetcherFunc(func(ctx context.Context, rawURL string, creds credentials.CredentialSet) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
			return statusBody, true, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	})
	m := newTestManager(fetcher, WithSingleflight())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := m.RefreshCredentialsRateLimits(leaderCtx, userA)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		limits *CredentialsRateLimits
		err    error
	}
	follower := make(chan result, 1)
	go func() {
		limits, err := m.RefreshCredentialsRateLimits(context.Background(), userA)
		follower <- result{limits, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("leader did not stop waiting after cancel")
	}

	close(release)
	select {
	case res := <-follower:
		require.NoError(t, res.err)
		assert.Len(t, res.limits.Resources, 3)
	case <-time.After(time.Second):
		t.Fatal("follower never received the shared refresh")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestManager_ConcurrentAccess(t *testing.T) {
	fetcher := newFetcher(statusBody)
	m := newTestManager(fetcher)
	ctx := context.Background()
	_, err := m.RefreshCredentialsRateLimits(ctx, userA)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.ObserveRateLimit(ctx, userA, homeTimeline, NewEndpointRateLimit(15, i%15, 1403602426))
		}(i)
		go func() {
			defer wg.Done()
			limit, err := m.GetQueryRateLimit(ctx, homeTimeline, userA)
			assert.NoError(t, err)
			assert.LessOrEqual(t, limit.Remaining, limit.Limit)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fetcher.Calls())
}
