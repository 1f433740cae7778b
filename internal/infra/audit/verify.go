package audit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opsforge/opsplane/internal/domain"
)

// SeqGap is an inclusive range of sequence ids missing from a segment.
// Gaps mean records were lost (a flagged persistence failure) rather than
// tampering; tampering breaks the hash chain instead.
type SeqGap struct {
	From uint64
	To   uint64
}

// VerifyReport summarizes a clean segment check.
type VerifyReport struct {
	Records  int
	FirstSeq uint64
	LastSeq  uint64
	Gaps     []SeqGap
}

// Verify checks one audit segment: every line must parse, carry the hash of
// its own content, and chain to the line before. A violation returns an
// error naming the first bad line. Sequence gaps are reported, not fatal.
func Verify(path string) (VerifyReport, error) {
	var report VerifyReport

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("reading audit log: %w", err)
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return report, nil
	}

	expectedPrev := genesisHash()
	var prevSeq uint64

	for i, line := range lines {
		var entry chainedRecord
		if err := json.Unmarshal(line, &entry); err != nil {
			return report, fmt.Errorf("line %d: invalid JSON: %w", i+1, err)
		}

		if entry.PrevHash != expectedPrev {
			return report, fmt.Errorf("line %d: chain broken: prev_hash %s does not match %s",
				i+1, short(entry.PrevHash), short(expectedPrev))
		}
		if computed := computeHash(entry); entry.Hash != computed {
			return report, fmt.Errorf("line %d: content hash mismatch: recorded %s, computed %s",
				i+1, short(entry.Hash), short(computed))
		}

		if i == 0 {
			report.FirstSeq = entry.Seq
		} else {
			if entry.Seq <= prevSeq {
				return report, fmt.Errorf("line %d: sequence id %d not after %d", i+1, entry.Seq, prevSeq)
			}
			if entry.Seq > prevSeq+1 {
				report.Gaps = append(report.Gaps, SeqGap{From: prevSeq + 1, To: entry.Seq - 1})
			}
		}

		expectedPrev = entry.Hash
		prevSeq = entry.Seq
		report.Records++
	}

	report.LastSeq = prevSeq
	return report, nil
}

// Tail returns the last n records of a segment without verifying it.
func Tail(path string, n int) ([]domain.AuditRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	lines := splitLines(data)
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
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

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "..."
	}
	return hash
}
