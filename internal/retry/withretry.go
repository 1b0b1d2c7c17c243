package retry

import (
	"context"
	"fmt"
	"time"

	"payroll-bridge/internal/errorqueue"
)

// Options controls WithRetry.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero or negative means 3.
	MaxAttempts int
	// Backoff schedules the wait between attempts. Zero value uses
	// errorqueue.DefaultBackoff.
	Backoff errorqueue.BackoffConfig
	// OnRetry, if set, is called before each wait with the attempt number
	// that just failed, its error, and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)

	// sleep overrides waiting in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry runs op until it succeeds, the attempt budget is spent, or
// the context is canceled. It is the inline counterpart of the durable
// queue: same backoff curve, no persistence.
func WithRetry(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := opts.Backoff
	if backoff.BaseDelay == 0 {
		backoff = errorqueue.DefaultBackoff()
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		delay := backoff.Delay(attempt - 1)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempt(s): %w", maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
