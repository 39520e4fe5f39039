// Package pacer spaces outgoing requests on the client side with
// golang.org/x/time/rate, one token bucket per key.
package pacer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config represents pacer configuration
type Config struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	Enabled           bool          `json:"enabled"`
	MaxKeys           int           `json:"max_keys,omitempty"`
	CleanupPeriod     time.Duration `json:"cleanup_period,omitempty"`
}

// Validate fills defaults and rejects impossible settings
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.BurstSize <= 0 {
		c.BurstSize = int(c.RequestsPerSecond)
		if c.BurstSize < 1 {
			c.BurstSize = 1
		}
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 5 * time.Minute
	}
	return nil
}

// Pacer hands out per-key limiters
type Pacer struct {
	mu          sync.Mutex
	config      Config
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a pacer
func New(config Config) (*Pacer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Pacer{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}, nil
}

// WaitForKey blocks until a request for key may be sent or ctx is done
func (p *Pacer) WaitForKey(ctx context.Context, key string) error {
	if p == nil || !p.config.Enabled {
		return nil
	}
	return p.limiterFor(key).Wait(ctx)
}

// Len returns the number of live keys
func (p *Pacer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

func (p *Pacer) limiterFor(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.lastCleanup) > p.config.CleanupPeriod {
		p.cleanup(now)
	}

	entry, ok := p.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(p.config.RequestsPerSecond), p.config.BurstSize),
		}
		p.limiters[key] = entry
		if len(p.limiters) > p.config.MaxKeys {
			p.cleanup(now)
		}
	}
	entry.lastUsed = now
	return entry.limiter
}

// cleanup drops limiters idle for longer than CleanupPeriod
func (p *Pacer) cleanup(now time.Time) {
	cutoff := now.Add(-p.config.CleanupPeriod)
	for key, entry := range p.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(p.limiters, key)
		}
	}
	p.lastCleanup = now
}
