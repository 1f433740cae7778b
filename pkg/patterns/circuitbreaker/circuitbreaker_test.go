package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(context.Context) (int, error) { return 0, errBoom }

func succeeding(context.Context) (int, error) { return 42, nil }

func TestClosedBreakerPassesResultsThrough(t *testing.T) {
	cb := New[int](3, time.Minute)

	got, err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New[int](3, time.Minute)

	for range 3 {
		_, err := cb.Execute(context.Background(), failing)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	_, err := cb.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New[int](2, time.Minute)

	_, _ = cb.Execute(context.Background(), failing)
	_, err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)

	_, err = cb.Execute(context.Background(), failing)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateClosed, cb.CurrentState(), "one failure after a success should not trip a threshold of two")
}

func TestProbeClosesBreakerAfterResetTimeout(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cb := New(2, 30*time.Second, WithClock[int](func() time.Time { return current }))

	_, _ = cb.Execute(context.Background(), failing)
	_, _ = cb.Execute(context.Background(), failing)
	require.Equal(t, StateOpen, cb.CurrentState())

	current = base.Add(31 * time.Second)
	got, err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestFailedProbeReopensBreaker(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cb := New(2, 30*time.Second, WithClock[int](func() time.Time { return current }))

	_, _ = cb.Execute(context.Background(), failing)
	_, _ = cb.Execute(context.Background(), failing)

	current = base.Add(31 * time.Second)
	_, err := cb.Execute(context.Background(), failing)
	require.ErrorIs(t, err, errBoom)

	current = base.Add(45 * time.Second)
	_, err = cb.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestHalfOpenRequiresConfiguredSuccesses(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cb := New(2, 30*time.Second,
		WithClock[int](func() time.Time { return current }),
		WithHalfOpenRequests[int](2))

	_, _ = cb.Execute(context.Background(), failing)
	_, _ = cb.Execute(context.Background(), failing)

	current = base.Add(31 * time.Second)
	_, err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.CurrentState(), "one probe success out of two keeps the breaker half open")

	_, err = cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.CurrentState())
}
