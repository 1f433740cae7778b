package execution_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/pkg/execution"
)

var errFlaky = errors.New("flaky")

func fastPolicy(maxAttempts int) execution.RetryPolicy {
	return execution.RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		MaxElapsed:     time.Second,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := execution.WithRetry(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := execution.WithRetry(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	policy := fastPolicy(5)
	policy.ShouldRetry = func(err error) bool { return errors.Is(err, errFlaky) }

	calls := 0
	_, err := execution.WithRetry(context.Background(), policy, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, fatal
	})

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_HonorsElapsedBudget(t *testing.T) {
	policy := execution.RetryPolicy{
		MaxAttempts:    100,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		MaxElapsed:     60 * time.Millisecond,
	}

	calls := 0
	started := time.Now()
	_, err := execution.WithRetry(context.Background(), policy, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	assert.Less(t, calls, 5)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
}

func TestWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := execution.RetryPolicy{
		MaxAttempts:    10,
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := execution.WithRetry(ctx, policy, func(ctx context.Context, attempt int) (int, error) {
		return 0, errFlaky
	})

	require.ErrorIs(t, err, context.Canceled)
}
