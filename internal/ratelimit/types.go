// Package ratelimit tracks the remote API's per-credential quotas: the shared
// cache of last known limits, and the manager that decides when that cache is
// stale and refreshes it.
package ratelimit

import (
	"time"
)

// EndpointRateLimit is the quota of one endpoint family.
// 0 <= Remaining <= Limit always holds for values built by NewEndpointRateLimit.
type EndpointRateLimit struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	// IsUnknown marks the "never seen, assume allowed" sentinel
	IsUnknown bool `json:"unknown,omitempty"`
}

// NewEndpointRateLimit builds a limit, clamping remaining into [0, limit]
func NewEndpointRateLimit(limit, remaining int, reset int64) *EndpointRateLimit {
	if limit < 0 {
		limit = 0
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}
	return &EndpointRateLimit{Limit: limit, Remaining: remaining, Reset: reset}
}

// UnknownEndpointRateLimit returns a fresh sentinel
func UnknownEndpointRateLimit() *EndpointRateLimit {
	return &EndpointRateLimit{IsUnknown: true}
}

// ResetTime is Reset as a time.Time
func (e *EndpointRateLimit) ResetTime() time.Time {
	return time.Unix(e.Reset, 0)
}

// IsExhausted reports whether no call is left and the window is still open at now
func (e *EndpointRateLimit) IsExhausted(now time.Time) bool {
	return !e.IsUnknown && e.Remaining == 0 && now.Before(e.ResetTime())
}

// WaitDuration is how long a caller must wait at now before a call is allowed
func (e *EndpointRateLimit) WaitDuration(now time.Time) time.Duration {
	if !e.IsExhausted(now) {
		return 0
	}
	return e.ResetTime().Sub(now)
}

// Clone returns a deep copy
func (e *EndpointRateLimit) Clone() *EndpointRateLimit {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// CredentialsRateLimits maps endpoint family keys to their quota for one
// credential identity. Families listed by the rate limit status endpoint live
// in Resources; anything else is kept in Other.
type CredentialsRateLimits struct {
	Resources   map[string]*EndpointRateLimit `json:"resources"`
	Other       map[string]*EndpointRateLimit `json:"other"`
	RetrievedAt time.Time                     `json:"retrieved_at"`
}

// NewCredentialsRateLimits returns an empty mapping
func NewCredentialsRateLimits() *CredentialsRateLimits {
	return &CredentialsRateLimits{
		Resources: make(map[string]*EndpointRateLimit),
		Other:     make(map[string]*EndpointRateLimit),
	}
}

// Find returns the entry for rawURL without creating one
func (c *CredentialsRateLimits) Find(rawURL string) (*EndpointRateLimit, string, bool) {
	path := EndpointKey(rawURL)
	if key, ok := matchTemplate(c.Resources, path); ok {
		return c.Resources[key], key, true
	}
	if limit, ok := c.Other[path]; ok {
		return limit, path, true
	}
	return nil, path, false
}

// Lookup returns the entry for rawURL, creating the unknown sentinel in Other
// when the family has never been seen. It never fails.
func (c *CredentialsRateLimits) Lookup(rawURL string) *EndpointRateLimit {
	limit, key, ok := c.Find(rawURL)
	if ok {
		return limit
	}
	if c.Other == nil {
		c.Other = make(map[string]*EndpointRateLimit)
	}
	limit = UnknownEndpointRateLimit()
	c.Other[key] = limit
	return limit
}

// Set replaces the entry for rawURL, wherever it lives
func (c *CredentialsRateLimits) Set(rawURL string, limit *EndpointRateLimit) {
	_, key, ok := c.Find(rawURL)
	if ok {
		if _, inResources := c.Resources[key]; inResources {
			c.Resources[key] = limit
			return
		}
	}
	if c.Other == nil {
		c.Other = make(map[string]*EndpointRateLimit)
	}
	c.Other[key] = limit
}

// Clone returns a deep copy
func (c *CredentialsRateLimits) Clone() *CredentialsRateLimits {
	if c == nil {
		return nil
	}
	return &CredentialsRateLimits{
		Resources:   cloneEntries(c.Resources),
		Other:       cloneEntries(c.Other),
		RetrievedAt: c.RetrievedAt,
	}
}

// cloneEntries keeps a nil map nil so a stored value reads back unchanged
func cloneEntries(entries map[string]*EndpointRateLimit) map[string]*EndpointRateLimit {
	if entries == nil {
		return nil
	}
	out := make(map[string]*EndpointRateLimit, len(entries))
	for k, v := range entries {
		out[k] = v.Clone()
	}
	return out
}
