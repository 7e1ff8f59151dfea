package unifiedllm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures retry behavior with exponential backoff. Retry is
// applied around a whole call (a completion or an entire agent run); the
// core components never retry on their own.
type RetryPolicy struct {
	MaxRetries        int     // total retry attempts (not counting initial)
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64 // exponential backoff factor
	Jitter            bool    // add random jitter to prevent thundering herd
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// policyBackOff implements backoff.BackOff over the policy's schedule. A
// server-supplied Retry-After replaces the next computed delay.
type policyBackOff struct {
	policy     RetryPolicy
	attempt    int
	retryAfter time.Duration
}

func (b *policyBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.attempt)
	if b.retryAfter > 0 {
		d = b.retryAfter
		b.retryAfter = 0
	}
	b.attempt++
	return d
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
	b.retryAfter = 0
}

// Retry executes fn with the configured retry policy.
// Only retryable errors are retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxDelay := time.Duration(policy.MaxDelay * float64(time.Second))
	attempt := 0
	schedule := &policyBackOff{policy: policy}

	operation := func() (T, error) {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		attempt++
		if !IsRetryable(err) {
			return zero, backoff.Permanent(err)
		}
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter != nil {
			retryDelay := time.Duration(*rl.RetryAfter * float64(time.Second))
			if retryDelay > maxDelay {
				// Retry-After exceeds max_delay; raise immediately.
				return zero, backoff.Permanent(err)
			}
			schedule.retryAfter = retryDelay
		}
		return zero, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(policy.MaxRetries+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if policy.OnRetry != nil {
				policy.OnRetry(err, attempt, delay)
			}
		}),
	)
	if err == nil {
		return result, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if ctx.Err() != nil && !isAbort(err) {
		return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
	}
	return zero, err
}

func isAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}
