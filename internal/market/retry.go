package market

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds upstream fetch attempts. It is a standalone value so
// the schedule can be tested apart from the cache that consumes it.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the exponential growth of retry delays.
	MaxInterval time.Duration
	// AttemptTimeout bounds each individual attempt. An attempt that
	// outlives its timeout is abandoned, not awaited.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used against the MAGA price service.
func DefaultRetryPolicy(maxAttempts int, attemptTimeout time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  attemptTimeout,
	}
}

// Do runs op under the policy: each attempt gets its own timeout, delays
// between attempts grow exponentially, and the last error is returned once
// the attempt budget is exhausted or ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := func() error {
		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		return op(attemptCtx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	maxRetries := uint64(0)
	if p.MaxAttempts > 1 {
		maxRetries = uint64(p.MaxAttempts - 1)
	}

	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}
