package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements Cache on a Redis server
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient builds a client from either a redis:// URL or a bare host:port
func NewRedisClient(url string) (*redis.Client, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: url}), nil
}

// NewRedisCache creates a new RedisCache
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get implements Cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set implements Cache
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Incr implements Cache. The expiry is set by whoever creates the counter.
func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return n, nil
}

// Close closes the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
