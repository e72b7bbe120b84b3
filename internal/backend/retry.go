package backend

import (
	"context"
	"math"
	"time"
)

// RetryPolicy defines how failed attempts are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int
	// Unit is multiplied by 2^attempt to get the delay after a failed attempt.
	Unit time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 2s and 4s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Unit:        time.Second,
	}
}

// ShouldRetry reports whether another attempt follows attempt (counted from 1).
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// NextDelay returns the wait after a failed attempt (counted from 1).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.Unit) * math.Pow(2, float64(attempt)))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

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
