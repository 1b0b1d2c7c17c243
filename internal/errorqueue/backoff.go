package errorqueue

import (
	"math/rand"
	"time"
)

// BackoffConfig controls retry scheduling:
//
//	delay = min(2^retryCount * BaseDelay + jitter, MaxDelay)
//	jitter = random() * JitterFactor * exponentialDelay
//
// Jitter spreads out items that land on the same exponential step so a
// burst of failures does not produce a synchronized retry storm.
type BackoffConfig struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64

	// random overrides the jitter source in tests; nil uses math/rand.
	random func() float64
}

// DefaultBackoff returns the production schedule: 1 minute base, 24 hour
// cap, 10% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:    time.Minute,
		MaxDelay:     24 * time.Hour,
		JitterFactor: 0.1,
	}
}

// Delay computes the wait before attempt retryCount+1.
func (c BackoffConfig) Delay(retryCount int) time.Duration {
	exponential := c.BaseDelay
	for i := 0; i < retryCount; i++ {
		exponential *= 2
		if exponential >= c.MaxDelay {
			exponential = c.MaxDelay
			break
		}
	}

	jitter := time.Duration(0)
	if c.JitterFactor > 0 {
		r := rand.Float64
		if c.random != nil {
			r = c.random
		}
		jitter = time.Duration(r() * c.JitterFactor * float64(exponential))
	}

	delay := exponential + jitter
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// NextRetryAt returns the absolute timestamp of the next attempt.
func (c BackoffConfig) NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(c.Delay(retryCount))
}
