// Package faults decides what happens to transport and service failures:
// propagate them to the caller, or swallow them into a neutral result and
// keep a record for later inspection.
package faults

import (
	"sync"
	"time"

	"tweetcore/internal/common/errors"
	"tweetcore/internal/common/logging"
)

// Config holds the two policy switches
type Config struct {
	// LogExceptions appends every handled failure to the in-memory log
	LogExceptions bool
	// SwallowExceptions turns failures into neutral results instead of errors
	SwallowExceptions bool
}

// DefaultConfig propagates failures and keeps a log of them
func DefaultConfig() Config {
	return Config{LogExceptions: true}
}

// Failure is one recorded failure
type Failure struct {
	URL        string
	StatusCode int
	Err        error
	Details    []errors.ServiceDetail
	OccurredAt time.Time
}

// Policy is shared by the executor and the auth lifecycle manager
type Policy struct {
	mu       sync.RWMutex
	config   Config
	failures []Failure
	logger   logging.Logger
	maxLog   int
}

// NewPolicy creates a policy. A nil logger uses the global logger.
func NewPolicy(config Config, logger logging.Logger) *Policy {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Policy{
		config: config,
		logger: logger.WithFields(logging.String("component", "faults")),
		maxLog: 1000,
	}
}

// Config returns the current switches
func (p *Policy) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// SetConfig replaces both switches
func (p *Policy) SetConfig(config Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
}

// Handle applies the policy to err raised while calling url.
//
// Configuration errors are always returned. Other failures are recorded when
// LogExceptions is on, and then either swallowed (nil is returned) or
// returned unchanged.
func (p *Policy) Handle(url string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsConfiguration(err) {
		return err
	}

	config := p.Config()
	if config.LogExceptions {
		p.Record(url, statusCode, err)
	}
	if config.SwallowExceptions {
		return nil
	}
	return err
}

// Record appends a failure to the log when LogExceptions is on. It is used
// directly by best-effort calls, which swallow regardless of policy.
func (p *Policy) Record(url string, statusCode int, err error) {
	var details []errors.ServiceDetail
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		details = appErr.Details
		if statusCode == 0 {
			statusCode = appErr.StatusCode
		}
	}

	p.logger.Warn("Request failed",
		logging.String("url", url),
		logging.Int("status", statusCode),
		logging.Any("details", details),
		logging.Err(err),
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.config.LogExceptions {
		return
	}
	p.failures = append(p.failures, Failure{
		URL:        url,
		StatusCode: statusCode,
		Err:        err,
		Details:    details,
		OccurredAt: time.Now(),
	})
	if len(p.failures) > p.maxLog {
		p.failures = p.failures[len(p.failures)-p.maxLog:]
	}
}

// Failures returns a copy of the failure log, oldest first
func (p *Policy) Failures() []Failure {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Failure, len(p.failures))
	copy(out, p.failures)
	return out
}

// LastFailure returns the most recent failure
func (p *Policy) LastFailure() (Failure, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.failures) == 0 {
		return Failure{}, false
	}
	return p.failures[len(p.failures)-1], true
}

// Clear empties the failure log
func (p *Policy) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = nil
}
