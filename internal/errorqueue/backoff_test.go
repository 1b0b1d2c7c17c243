package errorqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoublesPerAttempt(t *testing.T) {
	cfg := BackoffConfig{
		BaseDelay:    time.Minute,
		MaxDelay:     24 * time.Hour,
		JitterFactor: 0, // deterministic
	}

	expected := []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		32 * time.Minute,
	}
	for retryCount, want := range expected {
		assert.Equal(t, want, cfg.Delay(retryCount), "retryCount=%d", retryCount)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	cfg := BackoffConfig{
		BaseDelay:    time.Minute,
		MaxDelay:     24 * time.Hour,
		JitterFactor: 0,
	}

	// 2^11 minutes = 34h8m, past the cap.
	assert.Equal(t, 24*time.Hour, cfg.Delay(11))
	assert.Equal(t, 24*time.Hour, cfg.Delay(100))
}

func TestDelayJitterBounded(t *testing.T) {
	cfg := BackoffConfig{
		BaseDelay:    time.Minute,
		MaxDelay:     24 * time.Hour,
		JitterFactor: 0.1,
		random:       func() float64 { return 1.0 },
	}

	// Worst-case jitter adds JitterFactor * exponential.
	assert.Equal(t, time.Minute+6*time.Second, cfg.Delay(0))

	cfg.random = func() float64 { return 0.0 }
	assert.Equal(t, time.Minute, cfg.Delay(0))
}

func TestNextRetryAt(t *testing.T) {
	cfg := BackoffConfig{BaseDelay: time.Minute, MaxDelay: time.Hour, JitterFactor: 0}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(4*time.Minute), cfg.NextRetryAt(now, 2))
}

func TestClassifyAttemptError(t *testing.T) {
	tests := []struct {
		message string
		want    RetryResult
	}{
		{"dial tcp: connection refused", RetryTransient},
		{"context deadline exceeded", RetryTransient},
		{"upstream returned 503", RetryTransient},
		{"Rate limit exceeded, retry later", RetryTransient},
		{"invalid SSN format", RetryFailed},
		{"record rejected by destination", RetryFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyAttemptError(tt.message), tt.message)
	}
}
