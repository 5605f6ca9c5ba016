package domain

import (
	"fmt"
	"time"
)

const (
	DefaultBackoffBase = 10
	DefaultMaxAttempts = 5
	DefaultRetention   = 30 * 24 * time.Hour
)

// RetryPolicy holds the knobs of the delivery state machine.
type RetryPolicy struct {
	// BackoffBase is raised to the attempt count to get the delay in milliseconds.
	BackoffBase int
	MaxAttempts int
	// Retention is how long a terminal state is kept before cleanup.
	Retention time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BackoffBase: DefaultBackoffBase,
		MaxAttempts: DefaultMaxAttempts,
		Retention:   DefaultRetention,
	}
}

func (p RetryPolicy) Validate() error {
	if p.BackoffBase < 1 {
		return fmt.Errorf("%w: backoff base must be >= 1", ErrValidation)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1", ErrValidation)
	}
	if p.Retention < 0 {
		return fmt.Errorf("%w: retention must not be negative", ErrValidation)
	}
	return nil
}

// Backoff returns BackoffBase^attempts milliseconds.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}

	delay := time.Millisecond
	for i := 0; i < attempts; i++ {
		next := delay * time.Duration(p.BackoffBase)
		if next < delay {
			return maxBackoff
		}
		delay = next
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

const maxBackoff = 24 * time.Hour
