// Package cache provides the keyed cache and counter used for availability
// results and request rate limiting.
package cache

import (
	"context"
	"time"
)

// Cache is a keyed byte cache with an atomic counter. A zero ttl means no expiry.
type Cache interface {
	// Get returns the value and whether it was present
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr increments the counter at key and returns the new value. The ttl
	// is applied when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
