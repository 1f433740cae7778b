package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func sampleRecord() domain.AuditRecord {
	return domain.AuditRecord{
		Caller:      "alice",
		Verb:        domain.VerbScale,
		Service:     "payment_processor",
		Environment: "staging",
		Decision:    domain.AuditDecisionAllowed,
		Outcome:     domain.AuditOutcomeSuccess,
	}
}

// flakySink fails Append on demand so tests can drive the degraded path.
type flakySink struct {
	mu      sync.Mutex
	fail    bool
	records []domain.AuditRecord
}

func (s *flakySink) Append(_ context.Context, record domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *flakySink) Recent(context.Context, int) ([]domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *flakySink) LastSeq(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return 0, nil
	}
	return s.records[len(s.records)-1].Seq, nil
}

func (s *flakySink) Close() error { return nil }

func (s *flakySink) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func TestRecordAssignsSequentialIDs(t *testing.T) {
	sink := NewMemorySink()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	logger, err := NewLogger(context.Background(), testLogger(), sink,
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for range 3 {
		logger.Record(context.Background(), sampleRecord())
	}

	records := sink.All()
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, uint64(i+1), record.Seq)
		assert.Equal(t, now, record.Time)
	}
	assert.False(t, logger.Degraded())
}

func TestSequenceResumesAfterRestart(t *testing.T) {
	sink := NewMemorySink()
	earlier := sampleRecord()
	earlier.Seq = 41
	require.NoError(t, sink.Append(context.Background(), earlier))

	logger, err := NewLogger(context.Background(), testLogger(), sink)
	require.NoError(t, err)

	logger.Record(context.Background(), sampleRecord())

	records := sink.All()
	require.Len(t, records, 2)
	assert.Equal(t, uint64(42), records[1].Seq)
}

func TestConcurrentRecordsStaySequential(t *testing.T) {
	sink := NewMemorySink()
	logger, err := NewLogger(context.Background(), testLogger(), sink)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				logger.Record(context.Background(), sampleRecord())
			}
		}()
	}
	wg.Wait()

	records := sink.All()
	require.Len(t, records, writers*perWriter)
	for i, record := range records {
		assert.Equal(t, uint64(i+1), record.Seq)
	}
}

func TestSinkFailureBurnsSequenceID(t *testing.T) {
	sink := &flakySink{}
	logger, err := NewLogger(context.Background(), testLogger(), sink)
	require.NoError(t, err)

	logger.Record(context.Background(), sampleRecord())
	sink.setFail(true)
	logger.Record(context.Background(), sampleRecord())
	sink.setFail(false)
	logger.Record(context.Background(), sampleRecord())

	records, err := sink.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, uint64(3), records[1].Seq)
	assert.Equal(t, uint64(1), logger.Dropped())
}

func TestDegradedFlipsAndRecovers(t *testing.T) {
	sink := &flakySink{}
	logger, err := NewLogger(context.Background(), testLogger(), sink,
		WithDegradedThreshold(3))
	require.NoError(t, err)

	sink.setFail(true)
	logger.Record(context.Background(), sampleRecord())
	logger.Record(context.Background(), sampleRecord())
	assert.False(t, logger.Degraded())

	logger.Record(context.Background(), sampleRecord())
	assert.True(t, logger.Degraded())
	assert.Equal(t, uint64(3), logger.Dropped())

	sink.setFail(false)
	logger.Record(context.Background(), sampleRecord())
	assert.False(t, logger.Degraded())
	assert.Equal(t, uint64(3), logger.Dropped())
}
