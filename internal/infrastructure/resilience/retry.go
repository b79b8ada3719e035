package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how fast an operation is retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the wait before the first retry; later waits double up to
	// four times this value.
	Backoff time.Duration
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, returns a Permanent error, ctx is done or
// the policy is exhausted. The last error is returned unwrapped.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.Backoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2
	exp.MaxInterval = 4 * policy.Backoff
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = exp
	if policy.Backoff <= 0 {
		b = &backoff.ZeroBackOff{}
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		return op(ctx)
	}, b)
}
