package rateLimit

import (
	"context"
	"time"
)

// Counter increments a fixed-window counter and returns the new count.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
}

func NewRateLimiter(counter Counter) *RateLimiter {
	return &RateLimiter{counter: counter}
}

// Allow reports whether key is still under rate hits in the current
// window. On a counter error the request is allowed and the error returned
// for logging.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	n, err := rl.counter.IncrWindow(ctx, "rl:"+key, period)
	if err != nil {
		return true, err
	}
	return n <= int64(rate), nil
}
