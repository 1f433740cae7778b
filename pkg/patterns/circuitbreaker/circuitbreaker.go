package circuitbreaker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var ErrOpen = errors.New("circuit breaker is open")

// Breaker trips open after maxFailures consecutive failures and lets a
// limited number of probe requests through once resetTimeout has passed.
// All state is atomic; no locks are held across the wrapped call.
type Breaker[T any] struct {
	maxFailures      int64
	resetTimeout     time.Duration
	halfOpenRequests int64
	now              func() time.Time

	state           atomic.Int32
	failures        atomic.Int64
	lastFailureTime atomic.Int64
	successCount    atomic.Int64
}

// Option customizes a Breaker.
type Option[T any] func(*Breaker[T])

// WithClock substitutes the time source, for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(cb *Breaker[T]) { cb.now = now }
}

// WithHalfOpenRequests sets how many consecutive probe successes are needed
// to close the breaker again. The default is one.
func WithHalfOpenRequests[T any](n int) Option[T] {
	return func(cb *Breaker[T]) {
		if n > 0 {
			cb.halfOpenRequests = int64(n)
		}
	}
}

func New[T any](maxFailures int, resetTimeout time.Duration, opts ...Option[T]) *Breaker[T] {
	cb := &Breaker[T]{
		maxFailures:      int64(maxFailures),
		resetTimeout:     resetTimeout,
		halfOpenRequests: 1,
		now:              time.Now,
	}
	cb.state.Store(int32(StateClosed))
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the breaker is open, and feeds the result back into
// the breaker state.
func (cb *Breaker[T]) Execute(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if !cb.canExecute() {
		var zero T
		return zero, ErrOpen
	}

	result, err := fn(ctx)
	cb.recordResult(err)
	return result, err
}

// CurrentState reports the breaker state for health surfaces.
func (cb *Breaker[T]) CurrentState() State {
	return State(cb.state.Load())
}

func (cb *Breaker[T]) canExecute() bool {
	switch State(cb.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().UnixNano() > cb.lastFailureTime.Load()+cb.resetTimeout.Nanoseconds() {
			if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				cb.successCount.Store(0)
			}
			return true
		}
		return false
	case StateHalfOpen:
		return cb.successCount.Load() < cb.halfOpenRequests
	default:
		return false
	}
}

func (cb *Breaker[T]) recordResult(err error) {
	if err != nil {
		failures := cb.failures.Add(1)
		cb.lastFailureTime.Store(cb.now().UnixNano())

		current := State(cb.state.Load())
		if current == StateHalfOpen || (current == StateClosed && failures >= cb.maxFailures) {
			cb.state.CompareAndSwap(int32(current), int32(StateOpen))
		}
		return
	}

	if State(cb.state.Load()) == StateHalfOpen {
		if cb.successCount.Add(1) >= cb.halfOpenRequests {
			if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
				cb.failures.Store(0)
			}
		}
		return
	}
	cb.failures.Store(0)
}
