package util

import (
	"context"
	"math"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	p := RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
	_, err := p.Do(ctx, func(context.Context) error { return fn() })
	return err
}

// RetryPolicy is an exponential backoff schedule with a separate, longer
// base delay for rate-limit failures. The zero value retries nothing.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxDelay       time.Duration
	Multiplier     float64

	// Retryable reports whether err may succeed on another attempt. Nil
	// treats every error as retryable.
	Retryable func(err error) bool
	// RateLimited reports whether err is a rate-limit rejection.
	RateLimited func(err error) bool
	// Sleep waits for d or until ctx is done. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before every backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay returns the backoff before attempt+1 after attempt failed.
func (p RetryPolicy) Delay(attempt int, rateLimited bool) time.Duration {
	base := p.BaseDelay
	if rateLimited && p.RateLimitDelay > 0 {
		base = p.RateLimitDelay
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := time.Duration(float64(base) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. It returns the number of attempts made and the last
// error. If ctx ends during a backoff, ctx.Err() is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt == maxAttempts || (p.Retryable != nil && !p.Retryable(err)) {
			return attempt, err
		}

		limited := p.RateLimited != nil && p.RateLimited(err)
		d := p.Delay(attempt, limited)
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return attempt, serr
		}
	}
	return maxAttempts, err
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
