// Package redis wraps go-redis for the shared rate limit store
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrConflict is returned by Update when every optimistic attempt lost a race
var ErrConflict = stderrors.New("redis: too many concurrent updates")

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	PoolSize   int    `json:"pool_size"`
	MaxRetries int    `json:"max_retries"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}

	c := &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:       config.Address,
			Password:   config.Password,
			DB:         config.DB,
			PoolSize:   config.PoolSize,
			MaxRetries: config.MaxRetries,
		}),
		config: config,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Health(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IsNil reports whether err means the key does not exist
func IsNil(err error) bool {
	return stderrors.Is(err, redis.Nil)
}

// SetJSON stores value as JSON
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.rdb.Set(ctx, key, data, expiration).Err()
}

// GetJSON decodes the JSON stored at key into dest. A missing key yields an
// error for which IsNil is true.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// TakeJSON atomically reads and deletes key. found is false when the key is absent.
func (c *Client) TakeJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.rdb.GetDel(ctx, key).Bytes()
	if IsNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

// Update performs an optimistic read-modify-write of key under WATCH.
// fn receives the current value (exists is false when the key is absent) and
// returns the new value; returning write=false leaves the key untouched.
func (c *Client) Update(ctx context.Context, key string, expiration time.Duration, fn func(current []byte, exists bool) (next []byte, write bool, err error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		if IsNil(err) {
			exists = false
		} else if err != nil {
			return err
		}

		next, write, err := fn(current, exists)
		if err != nil || !write {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, expiration)
			return nil
		})
		return err
	}

	for i := 0; i < c.config.MaxRetries; i++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}
