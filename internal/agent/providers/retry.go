package providers

import (
	"context"
	"time"
)

// RetryPolicy controls in-place retries of transient failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	// Default: 2
	MaxRetries int

	// Delay is the base backoff; attempt n waits Delay*n
	// Default: 1s
	Delay time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Delay: time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Delay <= 0 {
		p.Delay = time.Second
	}
	return p
}

// Retry executes op with linear backoff while it fails with a transient
// error. The last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	policy = policy.normalized()
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(policy.Delay * time.Duration(attempt)):
			}
		}
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		}
		lastErr = op()
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
