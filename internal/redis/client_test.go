package redis

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr()}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.Equal(t, 5, config.MaxRetries)
		assert.NoError(t, client.Health(context.Background()))
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		_, err = NewClient(&Config{Address: addr})
		assert.Error(t, err)
	})
}

func TestJSONRoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Limit int `json:"limit"`
	}

	require.NoError(t, client.SetJSON(ctx, "k", payload{Limit: 15}, 0))

	var got payload
	require.NoError(t, client.GetJSON(ctx, "k", &got))
	assert.Equal(t, 15, got.Limit)

	err := client.GetJSON(ctx, "missing", &got)
	assert.True(t, IsNil(err))
}

func TestTakeJSON(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.SetJSON(ctx, "pending", map[string]string{"token": "abc"}, 0))

	var got map[string]string
	found, err := client.TakeJSON(ctx, "pending", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", got["token"])

	found, err = client.TakeJSON(ctx, "pending", &got)
	require.NoError(t, err)
	assert.False(t, found, "a taken key is gone")
}

func TestUpdate(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("creates when absent", func(t *testing.T) {
		err := client.Update(ctx, "counter", 0, func(current []byte, exists bool) ([]byte, bool, error) {
			assert.False(t, exists)
			return []byte("1"), true, nil
		})
		require.NoError(t, err)

		value, err := mr.Get("counter")
		require.NoError(t, err)
		assert.Equal(t, "1", value)
	})

	t.Run("skip write", func(t *testing.T) {
		err := client.Update(ctx, "untouched", 0, func(current []byte, exists bool) ([]byte, bool, error) {
			return nil, false, nil
		})
		require.NoError(t, err)
		assert.False(t, mr.Exists("untouched"))
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		require.NoError(t, mr.Set("n", "0"))
		client.config.MaxRetries = 100

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := client.Update(ctx, "n", 0, func(current []byte, exists bool) ([]byte, bool, error) {
					n, err := strconv.Atoi(string(current))
					if err != nil {
						return nil, false, err
					}
					return []byte(strconv.Itoa(n + 1)), true, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		value, err := mr.Get("n")
		require.NoError(t, err)
		assert.Equal(t, "10", value)
	})
}
