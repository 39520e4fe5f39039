package credentials

import (
	"context"
	"fmt"
	"sync"
)

type currentKey struct{}

// Context resolves the "current" credential set for a unit of work.
//
// Scoped values travel in context.Context, so each goroutine sees only the
// overrides established on its own call chain. When none is set, the
// application default applies.
type Context struct {
	mu          sync.RWMutex
	application *CredentialSet
}

// NewContext creates a credentials context with an optional application default
func NewContext(application *CredentialSet) *Context {
	c := &Context{}
	if application != nil {
		c.SetApplicationCredentials(*application)
	}
	return c
}

// ApplicationCredentials returns the application default, if one is set
func (c *Context) ApplicationCredentials() (CredentialSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.application == nil {
		return CredentialSet{}, false
	}
	return *c.application, true
}

// SetApplicationCredentials replaces the application default
func (c *Context) SetApplicationCredentials(creds CredentialSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.application = &creds
}

// Current returns the scoped credentials of ctx, falling back to the
// application default.
func (c *Context) Current(ctx context.Context) (CredentialSet, bool) {
	if creds, ok := FromContext(ctx); ok {
		return creds, true
	}
	return c.ApplicationCredentials()
}

// ExecuteOperationWithCredentials runs op with creds as the current credentials.
// The caller's ctx is left untouched, so the previous value is back in effect
// as soon as op returns, fails or panics, and nested calls stack naturally.
func (c *Context) ExecuteOperationWithCredentials(ctx context.Context, creds CredentialSet, op func(ctx context.Context) error) error {
	if op == nil {
		return fmt.Errorf("operation is required")
	}
	return op(WithCredentials(ctx, creds))
}

// Run is ExecuteOperationWithCredentials for operations that return a value
func Run[T any](ctx context.Context, c *Context, creds CredentialSet, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.ExecuteOperationWithCredentials(ctx, creds, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// WithCredentials returns a child of ctx carrying creds
func WithCredentials(ctx context.Context, creds CredentialSet) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, currentKey{}, creds)
}

// FromContext returns the scoped credentials of ctx, if any
func FromContext(ctx context.Context) (CredentialSet, bool) {
	if ctx == nil {
		return CredentialSet{}, false
	}
	creds, ok := ctx.Value(currentKey{}).(CredentialSet)
	return creds, ok
}
