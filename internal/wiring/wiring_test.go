package wiring

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/config"
)

const domainsDoc = `
environments:
  staging:
    tier: unrestricted
services:
  payment_processor:
    staging:
      compute:
        provider: aws
        kind: asg
        ref: payment-asg-staging
  legacy_reports:
    staging:
      compute:
        provider: gcp
        kind: asg
        ref: legacy-reports-staging
`

const policiesDoc = `
token_ttl: 2m
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	domainsPath := filepath.Join(dir, "domains.yml")
	require.NoError(t, os.WriteFile(domainsPath, []byte(domainsDoc), 0o600))
	policiesPath := filepath.Join(dir, "policies.yml")
	require.NoError(t, os.WriteFile(policiesPath, []byte(policiesDoc), 0o600))

	return &config.Config{
		Server: config.ServerConfig{
			Transport:       "stdio",
			LogLevel:        "info",
			ShutdownTimeout: time.Second,
		},
		Catalog: config.CatalogConfig{
			DomainsPath:  domainsPath,
			PoliciesPath: policiesPath,
		},
		Guardrails: config.GuardrailsConfig{
			Store:         "memory",
			TokenTTL:      2 * time.Minute,
			SweepInterval: time.Minute,
		},
		Audit: config.AuditConfig{
			Sink:      "jsonl",
			JSONLPath: filepath.Join(dir, "audit.jsonl"),
			Breaker:   config.AuditBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
		},
		Providers: config.ProvidersConfig{
			Mode:           "fake",
			StatusCacheTTL: time.Second,
		},
		Limits: config.LimitsConfig{
			Rate:           100,
			Burst:          100,
			AdapterTimeout: time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:    1,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
				MaxElapsed:     time.Second,
			},
		},
		ServiceVersion: "test",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuildServesDispatchesEndToEnd(t *testing.T) {
	ctx := context.Background()
	container, err := Build(ctx, testConfig(t), testLogger())
	require.NoError(t, err)

	require.NoError(t, container.Start(ctx))
	t.Cleanup(func() { _ = container.Stop(context.Background()) })

	outcome, err := container.Dispatcher.Dispatch(ctx, domain.DispatchRequest{
		Caller:      "wiring-test",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbGetStatus,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchCompleted, outcome.Status)
	require.NotNil(t, outcome.StatusSnapshot)

	records, err := container.Sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "wiring-test", records[0].Caller)
	assert.Equal(t, domain.AuditDecisionAllowed, records[0].Decision)
}

func TestFakeModeImpersonatesEveryCatalogProvider(t *testing.T) {
	container, err := Build(context.Background(), testConfig(t), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Stop(context.Background()) })

	for _, provider := range []string{"aws", "gcp", "fake"} {
		_, ok := container.Registry.Adapter(provider)
		assert.True(t, ok, provider)
	}
}

func TestBuildFailsOnMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.DomainsPath = filepath.Join(t.TempDir(), "nope.yml")

	_, err := Build(context.Background(), cfg, testLogger())
	require.Error(t, err)
}

func TestArchiveDemandsTheJSONLSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Sink = "sqlite"
	cfg.Audit.SQLitePath = filepath.Join(t.TempDir(), "audit.db")
	cfg.Audit.Archive.Enabled = true

	_, err := Build(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jsonl")
}

func TestStopDrainsAsyncAuditBeforeClosingSink(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Audit.Async = config.AsyncAuditConfig{
		Enabled:       true,
		BufferSize:    64,
		BatchSize:     8,
		FlushInterval: time.Hour,
	}

	container, err := Build(ctx, cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, container.Start(ctx))

	_, err = container.Dispatcher.Dispatch(ctx, domain.DispatchRequest{
		Caller:      "wiring-test",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbGetStatus,
	})
	require.NoError(t, err)

	require.NoError(t, container.Stop(ctx))

	data, err := os.ReadFile(cfg.Audit.JSONLPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wiring-test", "the buffered record must land before the sink closes")
}
