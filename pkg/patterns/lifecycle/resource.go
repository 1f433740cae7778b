package lifecycle

import "context"

// Resource is a component with an owned lifecycle. Start and Stop must both
// be idempotent; Stop must be safe to call after a failed Start.
type Resource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts bare start and stop functions into a Resource. A nil function
// is a no-op, so closers without a start phase fit too.
type Func struct {
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}
