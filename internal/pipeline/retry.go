package pipeline

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of upstream calls. Only errors the predicate
// accepts are retried; everything else surfaces immediately. The delay
// doubles after each retried attempt.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Sleep     func(ctx context.Context, d time.Duration)
}

// DefaultRetryPolicy matches the upstream throttle behavior: two attempts,
// five seconds before the second one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, BaseDelay: 5 * time.Second}
}

// Do runs fn up to p.Attempts times. A retryable failure sleeps the current
// delay, doubles it, and tries again; the last error is returned once
// attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) {
			if d <= 0 {
				return
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		sleep(ctx, delay)
		delay *= 2
	}
	return lastErr
}
