package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/opsforge/opsplane/internal/domain"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// auditRow is the sqlite projection of an audit record. Parameter and extra
// maps travel as JSON text.
type auditRow struct {
	Seq         uint64    `db:"seq"`
	RecordedAt  time.Time `db:"recorded_at"`
	SessionID   string    `db:"session_id"`
	DispatchID  string    `db:"dispatch_id"`
	Caller      string    `db:"caller"`
	Verb        string    `db:"verb"`
	Service     string    `db:"service"`
	Environment string    `db:"environment"`
	Parameters  string    `db:"parameters"`
	Provider    string    `db:"provider"`
	Resource    string    `db:"resource"`
	Decision    string    `db:"decision"`
	RuleID      string    `db:"rule_id"`
	Outcome     string    `db:"outcome"`
	Detail      string    `db:"detail"`
	LatencyMS   int64     `db:"latency_ms"`
	Extra       string    `db:"extra"`
}

// SQLiteSink persists audit records in a local SQLite file. It suits single
// host deployments that want queryable history without running a server.
type SQLiteSink struct {
	db *sqlx.DB
}

// NewSQLiteSink opens or creates the database at path and brings the schema
// up to date.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(path, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteSink{db: sqlx.NewDb(db, "sqlite")}, nil
}

// runMigrations applies pending schema migrations under a file lock so two
// processes starting at once cannot leave the database dirty.
func runMigrations(path string, db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	defer source.Close()

	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}

	lock := flock.New(filepath.Join(filepath.Dir(path), ".opsplane-migration.lock"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	if !locked {
		return errors.New("timeout waiting for migration lock")
	}
	defer func() { _ = lock.Unlock() }()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Append(ctx context.Context, record domain.AuditRecord) error {
	row, err := toRow(record)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `INSERT INTO audit_records (seq, recorded_at, session_id, dispatch_id, caller, verb, service, environment, parameters, provider, resource, decision, rule_id, outcome, detail, latency_ms, extra)
		VALUES (:seq, :recorded_at, :session_id, :dispatch_id, :caller, :verb, :service, :environment, :parameters, :provider, :resource, :decision, :rule_id, :outcome, :detail, :latency_ms, :extra)`, row)
	return err
}

func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `SELECT seq, recorded_at, session_id, dispatch_id, caller, verb, service, environment, parameters, provider, resource, decision, rule_id, outcome, detail, latency_ms, extra
		FROM audit_records ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	records := make([]domain.AuditRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		record, err := fromRow(rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *SQLiteSink) LastSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM audit_records`)
	return seq, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func toRow(record domain.AuditRecord) (auditRow, error) {
	parameters, err := marshalMap(record.Parameters)
	if err != nil {
		return auditRow{}, fmt.Errorf("marshaling audit parameters: %w", err)
	}
	extra, err := marshalMap(record.Extra)
	if err != nil {
		return auditRow{}, fmt.Errorf("marshaling audit extra: %w", err)
	}

	return auditRow{
		Seq:         record.Seq,
		RecordedAt:  record.Time,
		SessionID:   record.SessionID,
		DispatchID:  record.DispatchID,
		Caller:      record.Caller,
		Verb:        string(record.Verb),
		Service:     record.Service,
		Environment: record.Environment,
		Parameters:  parameters,
		Provider:    record.Provider,
		Resource:    record.Resource,
		Decision:    string(record.Decision),
		RuleID:      record.RuleID,
		Outcome:     string(record.Outcome),
		Detail:      record.Detail,
		LatencyMS:   record.LatencyMS,
		Extra:       extra,
	}, nil
}

func fromRow(row auditRow) (domain.AuditRecord, error) {
	record := domain.AuditRecord{
		Seq:         row.Seq,
		Time:        row.RecordedAt,
		SessionID:   row.SessionID,
		DispatchID:  row.DispatchID,
		Caller:      row.Caller,
		Verb:        domain.Verb(row.Verb),
		Service:     row.Service,
		Environment: row.Environment,
		Provider:    row.Provider,
		Resource:    row.Resource,
		Decision:    domain.AuditDecision(row.Decision),
		RuleID:      row.RuleID,
		Outcome:     domain.AuditOutcome(row.Outcome),
		Detail:      row.Detail,
		LatencyMS:   row.LatencyMS,
	}

	if err := unmarshalMap(row.Parameters, &record.Parameters); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("unmarshaling audit parameters for seq %d: %w", row.Seq, err)
	}
	if err := unmarshalMap(row.Extra, &record.Extra); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("unmarshaling audit extra for seq %d: %w", row.Seq, err)
	}
	return record, nil
}

func marshalMap(m any) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(raw string, dst any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

var _ domain.AuditSink = (*SQLiteSink)(nil)
