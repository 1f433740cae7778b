// Package ratelimit throttles dispatch requests per caller identity.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsforge/opsplane/internal/infra/config"
)

const (
	sweepInterval = 10 * time.Minute
	idleRetention = 30 * time.Minute
)

// Limiter answers whether a caller may issue another request right now.
type Limiter interface {
	Allow(caller string) bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerCaller maintains one token bucket per caller identity. Buckets that
// sit idle past the retention window are dropped during the next sweep so
// the map stays bounded under churning caller names.
type PerCaller struct {
	rate  rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// Option adjusts a PerCaller limiter.
type Option func(*PerCaller)

// WithClock overrides the time source. Tests use it to expire idle buckets.
func WithClock(now func() time.Time) Option {
	return func(p *PerCaller) { p.now = now }
}

// NewPerCaller builds a limiter from the configured sustained rate and
// burst allowance. A rate of zero disables throttling entirely.
func NewPerCaller(cfg config.LimitsConfig, opts ...Option) *PerCaller {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	p := &PerCaller{
		rate:    rate.Limit(cfg.Rate),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastSweep = p.now()
	return p
}

// Allow reports whether the caller has budget for one more request and
// consumes a token when it does. Unknown callers start with a full bucket.
func (p *PerCaller) Allow(caller string) bool {
	if p.rate <= 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= sweepInterval {
		p.sweep(now)
	}

	b, ok := p.buckets[caller]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(p.rate, p.burst)}
		p.buckets[caller] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// Size reports how many caller buckets are currently tracked.
func (p *PerCaller) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}

func (p *PerCaller) sweep(now time.Time) {
	for caller, b := range p.buckets {
		if now.Sub(b.lastSeen) >= idleRetention {
			delete(p.buckets, caller)
		}
	}
	p.lastSweep = now
}
