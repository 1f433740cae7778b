package config

import "time"

// AuditConfig selects and tunes the audit trail persistence.
type AuditConfig struct {
	// Sink selects the durable backend for audit records.
	Sink string `mapstructure:"sink" validate:"oneof=jsonl sqlite postgres"`

	JSONLPath  string `mapstructure:"jsonl_path"`
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgresDSN is read from OPSPLANE_AUDIT_POSTGRES_DSN when unset.
	PostgresDSN string `mapstructure:"postgres_dsn"`

	Async   AsyncAuditConfig   `mapstructure:"async"`
	Breaker AuditBreakerConfig `mapstructure:"breaker"`
	Archive ArchiveConfig      `mapstructure:"archive"`
}

// AsyncAuditConfig buffers audit writes off the dispatch path. Records drain
// through a single writer so per-dispatch ordering survives.
type AsyncAuditConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size" validate:"min=1"`
	BatchSize     int           `mapstructure:"batch_size"  validate:"min=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// AuditBreakerConfig trips the degraded-mode signal after repeated sink failures.
type AuditBreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures" validate:"min=1"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// ArchiveConfig ships rotated audit segments to object storage.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	S3Bucket  string `mapstructure:"s3_bucket" validate:"required_if=Enabled true,omitempty,s3_bucket"`
	S3Prefix  string `mapstructure:"s3_prefix"`
	S3Region  string `mapstructure:"s3_region" validate:"omitempty,aws_region"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}
