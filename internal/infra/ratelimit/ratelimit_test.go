package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opsforge/opsplane/internal/infra/config"
)

func TestAllowConsumesBurstThenThrottles(t *testing.T) {
	limiter := NewPerCaller(config.LimitsConfig{Rate: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("alice"), "request %d should fit in the burst", i+1)
	}
	assert.False(t, limiter.Allow("alice"))
}

func TestCallersHaveIndependentBudgets(t *testing.T) {
	limiter := NewPerCaller(config.LimitsConfig{Rate: 1, Burst: 1})

	assert.True(t, limiter.Allow("alice"))
	assert.False(t, limiter.Allow("alice"))

	assert.True(t, limiter.Allow("bob"))
}

func TestZeroRateDisablesThrottling(t *testing.T) {
	limiter := NewPerCaller(config.LimitsConfig{Rate: 0, Burst: 0})

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("alice"))
	}
	assert.Equal(t, 0, limiter.Size())
}

func TestIdleBucketsAreSwept(t *testing.T) {
	now := time.Now()
	limiter := NewPerCaller(
		config.LimitsConfig{Rate: 1, Burst: 1},
		WithClock(func() time.Time { return now }),
	)

	limiter.Allow("alice")
	limiter.Allow("bob")
	assert.Equal(t, 2, limiter.Size())

	// alice goes quiet; bob keeps calling until alice ages past retention.
	now = now.Add(idleRetention / 2)
	limiter.Allow("bob")
	now = now.Add(idleRetention / 2)
	limiter.Allow("bob")

	assert.Equal(t, 1, limiter.Size())
	assert.True(t, limiter.Allow("alice"), "swept caller starts over with a fresh bucket")
}
