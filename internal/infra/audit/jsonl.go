package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/opsforge/opsplane/internal/domain"
)

const genesisInput = "opsplane-genesis"

// chainedRecord is one line of the JSONL audit file. Hash covers the whole
// line with the hash field empty, and prev_hash chains to the line before,
// so any edit or deletion inside a segment is detectable.
type chainedRecord struct {
	domain.AuditRecord
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// JSONLSink appends hash-chained records to a newline-delimited JSON file.
// A file lock enforces a single writing process; the chain resumes from the
// last line on open.
type JSONLSink struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	lock     *flock.Flock
	prevHash string
	lastSeq  uint64
}

// NewJSONLSink opens or creates the audit file at path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring audit lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("audit log %s is locked by another process", path)
	}

	s := &JSONLSink{
		path:     path,
		lock:     lock,
		prevHash: genesisHash(),
	}

	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		lines := splitLines(data)
		if len(lines) > 0 {
			var last chainedRecord
			if err := json.Unmarshal(lines[len(lines)-1], &last); err == nil {
				s.prevHash = last.Hash
				s.lastSeq = last.Seq
			}
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	s.file = file
	return s, nil
}

// Append writes one chained record.
func (s *JSONLSink) Append(_ context.Context, record domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := chainedRecord{
		AuditRecord: record,
		PrevHash:    s.prevHash,
	}
	line.Hash = computeHash(line)

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	data = append(data, '\n')

	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}

	s.prevHash = line.Hash
	s.lastSeq = record.Seq
	return nil
}

// Recent returns up to limit records from the end of the file, oldest first.
func (s *JSONLSink) Recent(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	lines := splitLines(data)
	if limit > 0 && limit < len(lines) {
		lines = lines[len(lines)-limit:]
	}

	records := make([]domain.AuditRecord, 0, len(lines))
	for _, line := range lines {
		var entry chainedRecord
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		records = append(records, entry.AuditRecord)
	}
	return records, nil
}

// LastSeq returns the highest persisted sequence id.
func (s *JSONLSink) LastSeq(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, nil
}

// Rotate renames the active file aside and starts a fresh segment. Sequence
// ids keep counting; the new segment's chain restarts from genesis so every
// segment verifies on its own.
func (s *JSONLSink) Rotate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Close(); err != nil {
		return "", fmt.Errorf("closing audit segment: %w", err)
	}

	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(s.path, rotated); err != nil {
		return "", fmt.Errorf("rotating audit segment: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return "", fmt.Errorf("opening fresh audit segment: %w", err)
	}
	s.file = file
	s.prevHash = genesisHash()
	return rotated, nil
}

// Size returns the active segment's current byte size.
func (s *JSONLSink) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Path returns the active audit file path.
func (s *JSONLSink) Path() string {
	return s.path
}

// Close releases the file and the writer lock.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.file.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func genesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return hex.EncodeToString(h[:])
}

func computeHash(line chainedRecord) string {
	line.Hash = ""
	data, _ := json.Marshal(line)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

var _ domain.AuditSink = (*JSONLSink)(nil)
