package resilience

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a failing stage is re-attempted.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first failure. The
	// session pipeline uses 1.
	Retries int

	// Backoff is waited between attempts. The wait aborts when ctx is done.
	Backoff time.Duration

	// Retryable decides whether err warrants another attempt. Nil retries
	// every error except cancellation.
	Retryable func(err error) bool

	// OnRetry, if set, is called before each extra attempt with the attempt
	// number (1 for the first retry) and the error that caused it.
	OnRetry func(attempt int, err error)
}

// Retry calls fn until it succeeds or the policy is exhausted and returns the
// last result. Cancellation of ctx, or a cancellation error from fn, ends the
// loop immediately.
func Retry[R any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (R, error)) (R, error) {
	var (
		res R
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = fn(ctx)
		if err == nil || attempt >= p.Retries || isCancellation(err) || ctx.Err() != nil {
			return res, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return res, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		if p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return res, err
			case <-t.C:
			}
		}
	}
}
