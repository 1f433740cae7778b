package domain

import (
	"context"
	"time"
)

// AuditDecision is the guardrail outcome recorded with an attempt.
type AuditDecision string

const (
	AuditDecisionAllowed   AuditDecision = "allowed"
	AuditDecisionConfirmed AuditDecision = "confirmed"
	AuditDecisionDenied    AuditDecision = "denied"
	AuditDecisionPending   AuditDecision = "pending"
	AuditDecisionCancelled AuditDecision = "cancelled"
	AuditDecisionError     AuditDecision = "error"
)

// AuditOutcome is the provider-side result recorded with an attempt.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeNone    AuditOutcome = "none"
)

// AuditRecord is one append-only entry in the operation trail. Seq is
// assigned by the logger, strictly monotonic process-wide, and used to
// detect lost records during review.
type AuditRecord struct {
	Seq         uint64            `json:"seq" db:"seq"`
	Time        time.Time         `json:"time" db:"recorded_at"`
	SessionID   string            `json:"session_id" db:"session_id"`
	DispatchID  string            `json:"dispatch_id" db:"dispatch_id"`
	Caller      string            `json:"caller" db:"caller"`
	Verb        Verb              `json:"verb" db:"verb"`
	Service     string            `json:"service" db:"service"`
	Environment string            `json:"environment" db:"environment"`
	Parameters  map[string]any    `json:"parameters,omitempty" db:"-"`
	Provider    string            `json:"provider,omitempty" db:"provider"`
	Resource    string            `json:"resource,omitempty" db:"resource"`
	Decision    AuditDecision     `json:"decision" db:"decision"`
	RuleID      string            `json:"rule_id,omitempty" db:"rule_id"`
	Outcome     AuditOutcome      `json:"outcome" db:"outcome"`
	Detail      string            `json:"detail,omitempty" db:"detail"`
	LatencyMS   int64             `json:"latency_ms" db:"latency_ms"`
	Extra       map[string]string `json:"extra,omitempty" db:"-"`
}

// AuditLogger records operation attempts. Record never fails the triggering
// operation; sink failures are absorbed, counted, and surfaced through
// Degraded.
type AuditLogger interface {
	Record(ctx context.Context, record AuditRecord)

	// Degraded reports whether the logger is currently failing to persist
	// records. Operators poll this as the lost-records signal.
	Degraded() bool
}

// AuditSink persists audit records. Implementations are append-only; the
// running system never mutates or deletes written records.
type AuditSink interface {
	Append(ctx context.Context, record AuditRecord) error
	Recent(ctx context.Context, limit int) ([]AuditRecord, error)

	// LastSeq returns the highest persisted sequence id, or zero for an
	// empty sink. Loggers resume numbering from it across restarts.
	LastSeq(ctx context.Context) (uint64, error)

	Close() error
}
