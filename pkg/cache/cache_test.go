package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opsforge/opsplane/pkg/cache"
)

func TestCache_SetGet(t *testing.T) {
	c := cache.New[string, int]()
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Minute)

	got, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := cache.New[string, string](
		cache.WithDefaultTTL[string, string](5 * time.Millisecond),
	)
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "short", "x", 0)
	c.Set(ctx, "forever", "y", -1)

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)

	got, ok := c.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, "y", got)
}

func TestCache_EvictionCallback(t *testing.T) {
	evicted := make(map[string]int)
	c := cache.New[string, int](
		cache.WithEvictionCallback[string, int](func(k string, v int) { evicted[k] = v }),
	)
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "a", 7, time.Minute)
	c.Delete(ctx, "a")

	assert.Equal(t, map[string]int{"a": 7}, evicted)
	assert.Zero(t, c.Count())
}
