package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache stores raw feed payloads so separate CLI runs and server
// replicas can reuse a fresh snapshot.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisSnapshotCache is a SnapshotCache backed by Redis string keys.
type RedisSnapshotCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSnapshotCache connects to redisURL and verifies the connection.
func NewRedisSnapshotCache(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*RedisSnapshotCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisSnapshotCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get returns the payload under key. A missing key is not an error.
func (c *RedisSnapshotCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores data under key with the configured TTL.
func (c *RedisSnapshotCache) Set(ctx context.Context, key string, data []byte) error {
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Delete removes keys. Missing keys are ignored.
func (c *RedisSnapshotCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}
