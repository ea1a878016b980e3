package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to an external provider.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute with a burst of one. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)}
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	return rl.lim.Wait(ctx)
}
