package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tweetcore/internal/credentials"
	"tweetcore/internal/redis"
)

// RedisStore shares the cache between processes using the same credentials.
// Keys carry the identity fingerprint, never raw tokens.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store. Entries expire after ttl of inactivity; zero keeps them forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "tweetcore:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id credentials.Identity) string {
	return s.prefix + id.Key()
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, id credentials.Identity) (*CredentialsRateLimits, bool, error) {
	var limits CredentialsRateLimits
	err := s.client.GetJSON(ctx, s.key(id), &limits)
	if redis.IsNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rate limits: %w", err)
	}
	return &limits, true, nil
}

// Set implements Store
func (s *RedisStore) Set(ctx context.Context, id credentials.Identity, limits *CredentialsRateLimits) error {
	if limits == nil {
		limits = NewCredentialsRateLimits()
	}
	if err := s.client.SetJSON(ctx, s.key(id), limits, s.ttl); err != nil {
		return fmt.Errorf("failed to write rate limits: %w", err)
	}
	return nil
}

// SetEndpoint implements Store with an optimistic WATCH transaction
func (s *RedisStore) SetEndpoint(ctx context.Context, id credentials.Identity, rawURL string, limit *EndpointRateLimit) (bool, error) {
	updated := false
	err := s.client.Update(ctx, s.key(id), s.ttl, func(current []byte, exists bool) ([]byte, bool, error) {
		updated = false
		if !exists {
			return nil, false, nil
		}
		var limits CredentialsRateLimits
		if err := json.Unmarshal(current, &limits); err != nil {
			return nil, false, err
		}
		limits.Set(rawURL, limit.Clone())

		next, err := json.Marshal(&limits)
		if err != nil {
			return nil, false, err
		}
		updated = true
		return next, true, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update rate limit: %w", err)
	}
	return updated, nil
}
