package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payroll-bridge/internal/errorqueue"
)

func noSleep() (func(ctx context.Context, d time.Duration) error, *[]time.Duration) {
	var slept []time.Duration
	return func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}, &slept
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	sleep, slept := noSleep()
	attempts := 0
	err := WithRetry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, Options{
		MaxAttempts: 5,
		Backoff:     errorqueue.BackoffConfig{BaseDelay: time.Second, MaxDelay: time.Minute},
		sleep:       sleep,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	sleep, slept := noSleep()
	opErr := errors.New("upstream returned 503")
	attempts := 0
	var notified []int

	err := WithRetry(context.Background(), func(context.Context) error {
		attempts++
		return opErr
	}, Options{
		MaxAttempts: 3,
		Backoff:     errorqueue.BackoffConfig{BaseDelay: time.Second, MaxDelay: time.Minute},
		OnRetry: func(attempt int, _ error, _ time.Duration) {
			notified = append(notified, attempt)
		},
		sleep: sleep,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, opErr)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, notified, "no OnRetry after the last attempt")
	assert.Len(t, *slept, 2)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := WithRetry(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("timed out")
	}, Options{
		MaxAttempts: 5,
		Backoff:     errorqueue.BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: time.Second},
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryDefaults(t *testing.T) {
	sleep, _ := noSleep()
	attempts := 0
	err := WithRetry(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("nope")
	}, Options{sleep: sleep})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
