package execution

import (
	"context"
	"time"
)

// WithTimeout runs fn under a deadline. fn must honor context cancellation;
// the deadline does not forcibly stop it.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
