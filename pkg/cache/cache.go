package cache

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultTTL applies when Set is called with ttl 0.
	DefaultTTL = 30 * time.Second
	// DefaultCleanupInterval paces the background expiry sweep.
	DefaultCleanupInterval = time.Minute
)

// Store is a bounded-lifetime key/value cache.
type Store[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, key K)
	Count() int
	Stop()
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	permanent bool
}

// Cache is a thread-safe TTL cache with a background cleanup goroutine.
// A ttl of 0 uses the default, -1 never expires.
type Cache[K comparable, V any] struct {
	mu              sync.RWMutex
	entries         map[K]entry[V]
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	onEvicted       func(K, V)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithDefaultTTL overrides the default item lifetime.
func WithDefaultTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.defaultTTL = ttl }
}

// WithCleanupInterval overrides the sweep cadence.
func WithCleanupInterval[K comparable, V any](interval time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.cleanupInterval = interval }
}

// WithEvictionCallback registers a hook invoked when an item leaves the
// cache, whether deleted or swept.
func WithEvictionCallback[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvicted = fn }
}

// New builds a cache and starts its cleanup goroutine. Call Stop when done.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		entries:         make(map[K]entry[V]),
		defaultTTL:      DefaultTTL,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanupLoop()
	return c
}

func (c *Cache[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value}
	switch ttl {
	case -1:
		e.permanent = true
	case 0:
		e.expiresAt = time.Now().Add(c.defaultTTL)
	default:
		e.expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = e
}

func (c *Cache[K, V]) Get(_ context.Context, key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || (!e.permanent && time.Now().After(e.expiresAt)) {
		// Expired entries are left for the sweep to avoid a lock upgrade.
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Delete(_ context.Context, key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(key)
}

func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

func (c *Cache[K, V]) evict(key K) {
	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		if c.onEvicted != nil {
			c.onEvicted(key, e.value)
		}
	}
}

func (c *Cache[K, V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache[K, V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.entries {
		if !e.permanent && now.After(e.expiresAt) {
			c.evict(key)
		}
	}
}
