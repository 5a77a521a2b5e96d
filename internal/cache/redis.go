// Package cache provides a Redis-backed read-through cache for the hot
// read paths (credit balances, dashboards). Entries are invalidated on
// every write that can move a balance, so a cache miss is the only cost
// of correctness.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with JSON encode/decode helpers
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies connectivity
func New(address, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// BalanceKey is the cache key for a balance view. Keyed by requesting
// user rather than academy so the API layer can invalidate without
// resolving the enrollment; staleness across users of one academy is
// bounded by the short TTL.
func BalanceKey(userID, examType string) string {
	return fmt.Sprintf("credits:%s:%s", userID, examType)
}

// DashboardKey is the cache key for a student dashboard
func DashboardKey(userID, examType string) string {
	return fmt.Sprintf("dashboard:%s:%s", userID, examType)
}

// GetJSON reads a key and decodes it into dest; ok reports a hit
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry behaves like a miss; drop it
		slog.Warn("dropping corrupt cache entry", "key", key, "error", err)
		c.client.Del(ctx, key)
		return false, nil
	}

	return true, nil
}

// SetJSON encodes value and stores it under key with the configured TTL
func (c *Cache) SetJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}

	return nil
}

// Delete removes keys; used to invalidate after balance movement
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Ping verifies Redis connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
