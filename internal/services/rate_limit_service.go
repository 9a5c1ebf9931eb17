package services

import (
	"context"
	"fmt"
	"time"

	"github.com/coachconnect/booking-engine/internal/cache"
)

// RateLimitService counts requests per client in fixed windows
type RateLimitService struct {
	cache    cache.Cache
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(c cache.Cache, requests int, window time.Duration) *RateLimitService {
	return &RateLimitService{
		cache:    c,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// Check counts one request for key and returns a RateLimitError once the
// window's budget is spent
func (s *RateLimitService) Check(ctx context.Context, key string) error {
	if s.requests <= 0 || s.window <= 0 {
		return nil
	}
	now := s.now()
	windowStart := now.Truncate(s.window)
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())

	n, err := s.cache.Incr(ctx, counterKey, s.window)
	if err != nil {
		return fmt.Errorf("failed to check rate limit: %w", err)
	}
	if n > int64(s.requests) {
		retryAfter := windowStart.Add(s.window)
		return &RateLimitError{
			Message:    fmt.Sprintf("Too many requests. Please try again after %s", retryAfter.UTC().Format("15:04:05")),
			RetryAfter: retryAfter,
		}
	}
	return nil
}
