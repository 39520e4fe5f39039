package ratelimit

import (
	"context"
	"sync"

	"tweetcore/internal/credentials"
)

// Store holds CredentialsRateLimits per credential identity. Implementations
// must be safe for concurrent use and must never hand out or retain a value
// the caller can still mutate.
type Store interface {
	// Get returns the mapping for id; ok is false when id has never been stored
	Get(ctx context.Context, id credentials.Identity) (limits *CredentialsRateLimits, ok bool, err error)
	// Set overwrites the mapping for id
	Set(ctx context.Context, id credentials.Identity, limits *CredentialsRateLimits) error
	// SetEndpoint replaces one endpoint entry of an existing mapping in a single
	// atomic step. It reports false without writing when id is unknown.
	SetEndpoint(ctx context.Context, id credentials.Identity, rawURL string, limit *EndpointRateLimit) (bool, error)
}

// Cache is the in-process Store. Entries are created lazily and never deleted.
type Cache struct {
	mu      sync.RWMutex
	entries map[credentials.Identity]*CredentialsRateLimits
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[credentials.Identity]*CredentialsRateLimits)}
}

// Get implements Store
func (c *Cache) Get(_ context.Context, id credentials.Identity) (*CredentialsRateLimits, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	limits, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	return limits.Clone(), true, nil
}

// Set implements Store
func (c *Cache) Set(_ context.Context, id credentials.Identity, limits *CredentialsRateLimits) error {
	if limits == nil {
		limits = NewCredentialsRateLimits()
	}
	stored := limits.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = stored
	return nil
}

// SetEndpoint implements Store
func (c *Cache) SetEndpoint(_ context.Context, id credentials.Identity, rawURL string, limit *EndpointRateLimit) (bool, error) {
	stored := limit.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	limits, ok := c.entries[id]
	if !ok {
		return false, nil
	}
	limits.Set(rawURL, stored)
	return true, nil
}

// Len returns the number of identities held
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
