package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const dashboardKey = "analytics:dashboard"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetDashboard loads the cached dashboard into dest. Returns false on a
// cache miss.
func (c *Client) GetDashboard(ctx context.Context, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, dashboardKey).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached dashboard: %w", err)
	}
	return true, nil
}

// SetDashboard caches the dashboard payload with a TTL
func (c *Client) SetDashboard(ctx context.Context, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode dashboard: %w", err)
	}
	return c.rdb.Set(ctx, dashboardKey, data, ttl).Err()
}

// InvalidateDashboard drops the cached dashboard after a write that
// changes order or revenue figures
func (c *Client) InvalidateDashboard(ctx context.Context) error {
	return c.rdb.Del(ctx, dashboardKey).Err()
}
