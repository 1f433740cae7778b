package audit

import (
	"context"
	"errors"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/pkg/patterns/circuitbreaker"
)

var errBreakerOpen = errors.New("audit sink circuit open")

// BreakerSink wraps a sink with a circuit breaker on the write path. When the
// backing store is down, Append fails fast instead of stalling every dispatch
// on a dead connection; the logger above counts the failure and raises the
// degraded flag as usual. Reads pass through untouched.
type BreakerSink struct {
	sink    domain.AuditSink
	breaker *circuitbreaker.Breaker[struct{}]
}

// BreakerOption customizes a BreakerSink.
type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	clock func() time.Time
}

// WithBreakerClock substitutes the time source, for tests.
func WithBreakerClock(clock func() time.Time) BreakerOption {
	return func(o *breakerOptions) { o.clock = clock }
}

// NewBreakerSink wraps sink with the configured failure threshold and reset
// timeout.
func NewBreakerSink(sink domain.AuditSink, cfg config.AuditBreakerConfig, opts ...BreakerOption) *BreakerSink {
	options := breakerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &BreakerSink{
		sink: sink,
		breaker: circuitbreaker.New(maxFailures, resetTimeout,
			circuitbreaker.WithClock[struct{}](options.clock),
			circuitbreaker.WithHalfOpenRequests[struct{}](max(1, maxFailures/2)),
		),
	}
}

func (b *BreakerSink) Append(ctx context.Context, record domain.AuditRecord) error {
	_, err := b.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.sink.Append(ctx, record)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return errBreakerOpen
	}
	return err
}

func (b *BreakerSink) Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	return b.sink.Recent(ctx, limit)
}

func (b *BreakerSink) LastSeq(ctx context.Context) (uint64, error) {
	return b.sink.LastSeq(ctx)
}

func (b *BreakerSink) Close() error {
	return b.sink.Close()
}

var _ domain.AuditSink = (*BreakerSink)(nil)
