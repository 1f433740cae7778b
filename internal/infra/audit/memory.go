package audit

import (
	"context"
	"sync"

	"github.com/opsforge/opsplane/internal/domain"
)

// MemorySink keeps records in memory. It backs development wiring and tests;
// nothing survives a restart.
type MemorySink struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, record domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemorySink) Recent(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(s.records) {
		start = len(s.records) - limit
	}
	out := make([]domain.AuditRecord, len(s.records)-start)
	copy(out, s.records[start:])
	return out, nil
}

func (s *MemorySink) LastSeq(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return 0, nil
	}
	return s.records[len(s.records)-1].Seq, nil
}

func (s *MemorySink) Close() error { return nil }

// All returns a copy of every record, for tests.
func (s *MemorySink) All() []domain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

var _ domain.AuditSink = (*MemorySink)(nil)
