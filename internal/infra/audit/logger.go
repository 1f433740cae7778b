package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/pkg/telemetry"
)

// DefaultDegradedThreshold is how many consecutive persistence failures flip
// the degraded flag when the config sets nothing.
const DefaultDegradedThreshold = 5

// Logger is the synchronous audit logger. It assigns process-wide monotonic
// sequence ids, mirrors every record to structured logs, and persists through
// the sink. Persistence failures never propagate to the caller: they are
// counted, the record's sequence id stays burned (so review can detect the
// gap), and repeated failures raise the degraded flag.
type Logger struct {
	logger *slog.Logger
	sink   domain.AuditSink
	clock  func() time.Time

	// mu pairs sequence assignment with the sink write so segments stay
	// in sequence order when dispatches record concurrently.
	mu  sync.Mutex
	seq atomic.Uint64

	consecutiveFailures atomic.Int64
	dropped             atomic.Uint64
	degraded            atomic.Bool
	degradedThreshold   int64
}

// LoggerOption customizes a Logger.
type LoggerOption func(*Logger)

// WithClock substitutes the time source, for tests.
func WithClock(clock func() time.Time) LoggerOption {
	return func(l *Logger) { l.clock = clock }
}

// WithDegradedThreshold sets the consecutive-failure count that flips the
// degraded flag.
func WithDegradedThreshold(n int) LoggerOption {
	return func(l *Logger) {
		if n > 0 {
			l.degradedThreshold = int64(n)
		}
	}
}

// NewLogger builds a synchronous audit logger over the sink. Sequence
// numbering resumes after the sink's highest persisted id so restarts never
// reuse an id.
func NewLogger(ctx context.Context, logger *slog.Logger, sink domain.AuditSink, opts ...LoggerOption) (*Logger, error) {
	l := &Logger{
		logger:            logger,
		sink:              sink,
		clock:             time.Now,
		degradedThreshold: DefaultDegradedThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := sink.LastSeq(ctx)
	if err != nil {
		return nil, err
	}
	l.seq.Store(last)
	return l, nil
}

// Record assigns the next sequence id and persists the record. It never
// returns an error to the caller.
func (l *Logger) Record(ctx context.Context, record domain.AuditRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record = l.prepare(record)
	l.append(ctx, record)
}

// Degraded reports whether recent writes have been failing.
func (l *Logger) Degraded() bool {
	return l.degraded.Load()
}

// Dropped returns the count of records lost to sink failures or saturation.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// prepare stamps the sequence id and timestamp. The caller is responsible
// for appending prepared records in allocation order.
func (l *Logger) prepare(record domain.AuditRecord) domain.AuditRecord {
	record.Seq = l.seq.Add(1)
	if record.Time.IsZero() {
		record.Time = l.clock().UTC()
	}
	return record
}

// append mirrors the record to structured logs and writes it to the sink.
func (l *Logger) append(ctx context.Context, record domain.AuditRecord) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event",
		slog.Uint64("seq", record.Seq),
		slog.String("caller", record.Caller),
		slog.String("verb", string(record.Verb)),
		slog.String("service", record.Service),
		slog.String("environment", record.Environment),
		slog.String("decision", string(record.Decision)),
		slog.String("outcome", string(record.Outcome)),
		slog.Int64("latency_ms", record.LatencyMS),
	)

	if err := l.sink.Append(ctx, record); err != nil {
		l.noteFailure(err, record.Seq)
		return
	}
	l.noteSuccess()
}

func (l *Logger) noteFailure(err error, seq uint64) {
	l.dropped.Add(1)
	telemetry.RecordAuditDrop(context.Background())

	failures := l.consecutiveFailures.Add(1)
	l.logger.Error("audit record not persisted", "seq", seq, "error", err)

	if failures >= l.degradedThreshold && l.degraded.CompareAndSwap(false, true) {
		l.logger.Error("audit persistence degraded, records are being lost",
			"consecutive_failures", failures)
	}
}

func (l *Logger) noteSuccess() {
	if l.consecutiveFailures.Swap(0) > 0 && l.degraded.CompareAndSwap(true, false) {
		l.logger.Info("audit persistence recovered")
	}
}

var _ domain.AuditLogger = (*Logger)(nil)
