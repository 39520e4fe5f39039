package auth

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"tweetcore/internal/credentials"
	"tweetcore/internal/redis"
)

// DefaultPendingTTL bounds how long a user has to approve a request token
const DefaultPendingTTL = 15 * time.Minute

// PendingStore holds temporary tokens between the request and the verifier
// exchange. Take removes the token so it can be consumed only once.
type PendingStore interface {
	Put(ctx context.Context, token *credentials.AuthenticationToken) error
	Take(ctx context.Context, id string) (*credentials.AuthenticationToken, bool, error)
}

// MemoryPendingStore keeps pending tokens in process with patrickmn/go-cache
type MemoryPendingStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryPendingStore creates an in-memory store whose entries expire after ttl
func NewMemoryPendingStore(ttl, cleanupInterval time.Duration) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	return &MemoryPendingStore{cache: gocache.New(ttl, cleanupInterval)}
}

func (s *MemoryPendingStore) Put(ctx context.Context, token *credentials.AuthenticationToken) error {
	stored := *token
	s.cache.Set(token.ID(), &stored, gocache.DefaultExpiration)
	return nil
}

func (s *MemoryPendingStore) Take(ctx context.Context, id string) (*credentials.AuthenticationToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.cache.Get(id)
	if !found {
		return nil, false, nil
	}
	s.cache.Delete(id)
	return value.(*credentials.AuthenticationToken), true, nil
}

// Len returns the number of unexpired pending tokens
func (s *MemoryPendingStore) Len() int {
	return s.cache.ItemCount()
}

// RedisPendingStore shares pending tokens between processes, so the callback
// can land on a different instance than the one that requested the token.
type RedisPendingStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPendingStore creates a Redis-backed store
func NewRedisPendingStore(client *redis.Client, prefix string, ttl time.Duration) *RedisPendingStore {
	if prefix == "" {
		prefix = "tweetcore:pending:"
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &RedisPendingStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisPendingStore) Put(ctx context.Context, token *credentials.AuthenticationToken) error {
	return s.client.SetJSON(ctx, s.prefix+token.ID(), token, s.ttl)
}

func (s *RedisPendingStore) Take(ctx context.Context, id string) (*credentials.AuthenticationToken, bool, error) {
	var token credentials.AuthenticationToken
	found, err := s.client.TakeJSON(ctx, s.prefix+id, &token)
	if err != nil || !found {
		return nil, false, err
	}
	return &token, true, nil
}
