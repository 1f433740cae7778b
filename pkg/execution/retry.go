package execution

import (
	"context"
	"math/rand"
	"time"
)

// RetryableFunc is a function that can be retried. Attempt numbering starts
// at one.
type RetryableFunc[T any] func(ctx context.Context, attempt int) (T, error)

// RetryPolicy bounds a retry loop by attempts and by wall-clock time.
// Backoff grows exponentially from InitialBackoff, capped at MaxBackoff,
// with up to 25% random jitter added to each delay.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration

	// ShouldRetry filters errors. A nil predicate retries everything.
	ShouldRetry func(error) bool
}

// WithRetry executes fn under the policy. It returns the last result and
// error once the error is non-retryable, the attempt budget is spent, the
// elapsed budget is spent, or the context is cancelled. Sleeps between
// attempts honor context cancellation.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, fn RetryableFunc[T]) (T, error) {
	var result T
	var err error

	started := time.Now()
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err = fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return result, err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if policy.MaxElapsed > 0 && time.Since(started)+backoff > policy.MaxElapsed {
			break
		}

		delay := backoff
		if delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}

		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return result, err
}
