package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/pkg/postgres"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq BIGINT PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	dispatch_id TEXT NOT NULL DEFAULT '',
	caller TEXT NOT NULL DEFAULT '',
	verb TEXT NOT NULL,
	service TEXT NOT NULL,
	environment TEXT NOT NULL,
	parameters JSONB,
	provider TEXT NOT NULL DEFAULT '',
	resource TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL,
	rule_id TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	latency_ms BIGINT NOT NULL DEFAULT 0,
	extra JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_records_service_env ON audit_records (service, environment);
CREATE INDEX IF NOT EXISTS idx_audit_records_recorded_at ON audit_records (recorded_at);
`

// PostgresSink persists audit records in PostgreSQL. Records are insert-only;
// the table has no update or delete path.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to the database at dsn and ensures the audit
// table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring audit schema: %w", err)
	}

	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Append(ctx context.Context, record domain.AuditRecord) error {
	parameters, err := json.Marshal(record.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling audit parameters: %w", err)
	}
	extra, err := json.Marshal(record.Extra)
	if err != nil {
		return fmt.Errorf("marshaling audit extra: %w", err)
	}

	query := `INSERT INTO audit_records (seq, recorded_at, session_id, dispatch_id, caller, verb, service, environment, parameters, provider, resource, decision, rule_id, outcome, detail, latency_ms, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = s.pool.Exec(ctx, query,
		record.Seq, record.Time, record.SessionID, record.DispatchID, record.Caller,
		string(record.Verb), record.Service, record.Environment, parameters,
		record.Provider, record.Resource, string(record.Decision), record.RuleID,
		string(record.Outcome), record.Detail, record.LatencyMS, extra)
	return err
}

func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT seq, recorded_at, session_id, dispatch_id, caller, verb, service, environment, parameters, provider, resource, decision, rule_id, outcome, detail, latency_ms, extra
		FROM audit_records ORDER BY seq DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var record domain.AuditRecord
		var verb, decision, outcome string
		var parameters, extra []byte

		err := rows.Scan(&record.Seq, &record.Time, &record.SessionID, &record.DispatchID,
			&record.Caller, &verb, &record.Service, &record.Environment, &parameters,
			&record.Provider, &record.Resource, &decision, &record.RuleID,
			&outcome, &record.Detail, &record.LatencyMS, &extra)
		if err != nil {
			return nil, err
		}

		record.Verb = domain.Verb(verb)
		record.Decision = domain.AuditDecision(decision)
		record.Outcome = domain.AuditOutcome(outcome)
		if len(parameters) > 0 {
			if err := json.Unmarshal(parameters, &record.Parameters); err != nil {
				return nil, fmt.Errorf("unmarshaling audit parameters for seq %d: %w", record.Seq, err)
			}
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &record.Extra); err != nil {
				return nil, fmt.Errorf("unmarshaling audit extra for seq %d: %w", record.Seq, err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(records)
	return records, nil
}

func (s *PostgresSink) LastSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM audit_records`).Scan(&seq)
	return seq, err
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

func reverse(records []domain.AuditRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

var _ domain.AuditSink = (*PostgresSink)(nil)
