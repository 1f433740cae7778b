package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/config"
)

// AsyncLogger decouples audit persistence from the dispatch path. Record
// assigns the sequence id and enqueues under one lock, keeping queue order
// aligned with sequence order; a single drain goroutine then writes the
// queue out in that order. A full queue drops the record rather than
// blocking the operation.
type AsyncLogger struct {
	core   *Logger
	logger *slog.Logger

	queue         chan domain.AuditRecord
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// NewAsyncLogger wraps the synchronous logger with a buffered queue.
func NewAsyncLogger(core *Logger, cfg config.AsyncAuditConfig, logger *slog.Logger) *AsyncLogger {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 1024
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 2 * time.Second
	}
	return &AsyncLogger{
		core:          core,
		logger:        logger,
		queue:         make(chan domain.AuditRecord, buffer),
		batchSize:     batch,
		flushInterval: flush,
		done:          make(chan struct{}),
	}
}

// Record sequences the record and queues the write. After Stop it waits for
// the final drain and falls back to a synchronous write, so late entries
// still reach the sink in sequence order.
func (a *AsyncLogger) Record(ctx context.Context, record domain.AuditRecord) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		<-a.done
		a.core.Record(ctx, record)
		return
	}
	record = a.core.prepare(record)
	select {
	case a.queue <- record:
		a.mu.Unlock()
	default:
		a.mu.Unlock()
		a.core.noteFailure(errQueueSaturated, record.Seq)
	}
}

// Degraded reports whether the underlying logger is losing records.
func (a *AsyncLogger) Degraded() bool {
	return a.core.Degraded()
}

// Start launches the drain goroutine.
func (a *AsyncLogger) Start(_ context.Context) error {
	a.mu.Lock()
	if a.started || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	go a.drain()
	return nil
}

// Stop closes the queue, waits for the drain goroutine to flush it, and
// leaves the logger in synchronous fallback mode.
func (a *AsyncLogger) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.stopped {
		a.stopped = true
		close(a.queue)
		if !a.started {
			// The drain goroutine never ran; flush inline.
			a.mu.Unlock()
			a.drain()
			return nil
		}
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncLogger) drain() {
	defer close(a.done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]domain.AuditRecord, 0, a.batchSize)

	flush := func() {
		for _, record := range batch {
			a.core.append(context.Background(), record)
		}
		batch = batch[:0]
	}

	for {
		select {
		case record, ok := <-a.queue:
			if !ok {
				flush()
				a.logger.Debug("audit queue drained")
				return
			}
			batch = append(batch, record)
			if len(batch) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		}
	}
}

type saturationError struct{}

func (saturationError) Error() string { return "audit queue saturated" }

var errQueueSaturated = saturationError{}

var _ domain.AuditLogger = (*AsyncLogger)(nil)
