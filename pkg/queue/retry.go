package queue

import "time"

// RetryPolicy controls how failed files are rescheduled
type RetryPolicy struct {
	// MaxRetries is the number of failures a file may accumulate
	// before it is promoted to PermanentlyFailed. Zero promotes on
	// the first failure.
	MaxRetries uint32

	// InitialDelay is the wait before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the exponential schedule
	MaxDelay time.Duration

	// ExponentialBackoff doubles the delay per retry when set;
	// otherwise every retry waits InitialDelay
	ExponentialBackoff bool
}

// DefaultRetryPolicy matches the documented configuration defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		InitialDelay:       5 * time.Second,
		MaxDelay:           5 * time.Minute,
		ExponentialBackoff: true,
	}
}

// Delay returns the wait before the retry-th attempt (1-based):
// min(MaxDelay, InitialDelay * 2^(retry-1)) under exponential backoff,
// InitialDelay otherwise.
func (p RetryPolicy) Delay(retry uint32) time.Duration {
	if retry == 0 {
		return 0
	}
	if !p.ExponentialBackoff {
		return p.InitialDelay
	}

	d := p.InitialDelay
	for i := uint32(1); i < retry; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
