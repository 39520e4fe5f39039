package pacer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	config := Config{Enabled: true, RequestsPerSecond: 0.5}
	require.NoError(t, config.Validate())
	assert.Equal(t, 1, config.BurstSize)
	assert.Equal(t, 10000, config.MaxKeys)
	assert.Equal(t, 5*time.Minute, config.CleanupPeriod)

	bad := Config{Enabled: true}
	assert.Error(t, bad.Validate())

	disabled := Config{}
	assert.NoError(t, disabled.Validate())
}

// waitBriefly fails fast when the limiter would need longer than a few milliseconds
func waitBriefly(p *Pacer, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return p.WaitForKey(ctx, key)
}

func TestPacer_KeysAreIndependent(t *testing.T) {
	p, err := New(Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 2})
	require.NoError(t, err)

	assert.NoError(t, waitBriefly(p, "a"))
	assert.NoError(t, waitBriefly(p, "a"))
	assert.Error(t, waitBriefly(p, "a"))

	assert.NoError(t, waitBriefly(p, "b"))
	assert.Equal(t, 2, p.Len())
}

func TestPacer_WaitHonoursContext(t *testing.T) {
	p, err := New(Config{Enabled: true, RequestsPerSecond: 0.1, BurstSize: 1})
	require.NoError(t, err)

	require.NoError(t, p.WaitForKey(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.WaitForKey(ctx, "k"))
}

func TestPacer_DisabledAndNil(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.NoError(t, waitBriefly(p, "k"))
	}

	var nilPacer *Pacer
	assert.NoError(t, nilPacer.WaitForKey(context.Background(), "k"))
}

func TestPacer_CleanupDropsIdleKeys(t *testing.T) {
	p, err := New(Config{Enabled: true, RequestsPerSecond: 10, CleanupPeriod: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, waitBriefly(p, "old"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, waitBriefly(p, "new"))

	assert.Equal(t, 1, p.Len())
}
