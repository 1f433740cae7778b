package providers

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/pkg/cache"
)

// CachedAdapter decorates an adapter with a short-lived status cache, keeping
// chatty status polls off the provider API. Concurrent polls for the same slot
// collapse into one provider call. Mutating verbs invalidate the cached entry
// for their slot so a fresh poll reflects the change.
type CachedAdapter struct {
	inner domain.ProviderAdapter
	cache cache.Store[string, domain.StatusSnapshot]
	group singleflight.Group
	ttl   time.Duration
}

// NewCachedAdapter wraps inner with the given status TTL.
func NewCachedAdapter(inner domain.ProviderAdapter, ttl time.Duration) *CachedAdapter {
	return &CachedAdapter{
		inner: inner,
		cache: cache.New[string, domain.StatusSnapshot](
			cache.WithDefaultTTL[string, domain.StatusSnapshot](ttl),
		),
		ttl: ttl,
	}
}

func (c *CachedAdapter) Name() string { return c.inner.Name() }

func (c *CachedAdapter) GetStatus(ctx context.Context, binding domain.ResourceBinding) (domain.StatusSnapshot, error) {
	key := binding.Slot()
	if snapshot, ok := c.cache.Get(ctx, key); ok {
		return snapshot, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// A caller that lost the race may land here after the winner already
		// refilled the cache.
		if snapshot, ok := c.cache.Get(ctx, key); ok {
			return snapshot, nil
		}
		snapshot, err := c.inner.GetStatus(ctx, binding)
		if err != nil {
			return domain.StatusSnapshot{}, err
		}
		c.cache.Set(ctx, key, snapshot, c.ttl)
		return snapshot, nil
	})
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return value.(domain.StatusSnapshot), nil
}

func (c *CachedAdapter) Scale(ctx context.Context, binding domain.ResourceBinding, target int32) (domain.OperationResult, error) {
	result, err := c.inner.Scale(ctx, binding, target)
	if err == nil {
		c.cache.Delete(ctx, binding.Slot())
	}
	return result, err
}

func (c *CachedAdapter) Restart(ctx context.Context, binding domain.ResourceBinding) (domain.OperationResult, error) {
	result, err := c.inner.Restart(ctx, binding)
	if err == nil {
		c.cache.Delete(ctx, binding.Slot())
	}
	return result, err
}

func (c *CachedAdapter) Deploy(ctx context.Context, binding domain.ResourceBinding, version, strategy string) (domain.OperationResult, error) {
	result, err := c.inner.Deploy(ctx, binding, version, strategy)
	if err == nil {
		c.cache.Delete(ctx, binding.Slot())
	}
	return result, err
}

func (c *CachedAdapter) GetLogs(ctx context.Context, binding domain.ResourceBinding, window domain.LogWindow) (domain.LogBatch, error) {
	return c.inner.GetLogs(ctx, binding, window)
}

// Stop halts the cache's cleanup goroutine.
func (c *CachedAdapter) Stop() {
	c.cache.Stop()
}

var _ domain.ProviderAdapter = (*CachedAdapter)(nil)
