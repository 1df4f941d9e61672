package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nuhaa333/chat-app/internal/repository"
)

// RetryPolicy bounds retries of idempotent store operations.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy retries for up to two seconds.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
	MaxElapsedTime:  2 * time.Second,
}

// retryIdempotent runs op again while it fails with a transient error.
// Non-transient errors stop the loop immediately.
func retryIdempotent(ctx context.Context, policy RetryPolicy, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.MaxElapsedTime = policy.MaxElapsedTime

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !repository.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
