package errors

import (
	"context"
	"time"
)

// RetryAttempts bounds how often a transient storage failure is retried
// before it surfaces as "try again later".
const RetryAttempts = 3

// Retry runs fn up to RetryAttempts times, doubling the backoff after each
// transient failure. Non-transient errors abort immediately.
func Retry(ctx context.Context, base time.Duration, fn func(ctx context.Context) error) error {
	var err error
	backoff := base
	for attempt := 0; attempt < RetryAttempts; attempt++ {
		if err = fn(ctx); err == nil || !IsKind(err, KindTransient) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Transient(ctx.Err())
		}
		backoff *= 2
	}
	return err
}
