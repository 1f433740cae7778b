package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/audit"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func testConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "domains.yml"), `
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
`)
	writeFile(t, filepath.Join(dir, "policies.yml"), `
token_ttl: 3m
scale_bounds:
  staging:
    min: 1
    max: 8
`)

	configPath := filepath.Join(dir, "opsplane.yml")
	writeFile(t, configPath, fmt.Sprintf(`
catalog:
  domains_path: %s
  policies_path: %s
providers:
  mode: fake
audit:
  jsonl_path: %s
`, filepath.Join(dir, "domains.yml"), filepath.Join(dir, "policies.yml"), filepath.Join(dir, "audit.jsonl")))
	return configPath
}

func TestCheckReportsCatalogAndPolicy(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runCheck(&out, testConfigFile(t)))

	text := out.String()
	assert.Contains(t, text, "config: ok")
	assert.Contains(t, text, "catalog: ok (v1, 1 services, 1 bindings, environments staging)")
	assert.Contains(t, text, "scale bounds for staging")
	assert.Contains(t, text, "token ttl 3m0s")
	assert.Contains(t, text, "fake mode covers aws")
}

func TestCheckFailsOnMissingCatalog(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "opsplane.yml")
	writeFile(t, configPath, fmt.Sprintf(`
catalog:
  domains_path: %s
  policies_path: %s
`, filepath.Join(dir, "missing.yml"), filepath.Join(dir, "policies.yml")))

	var out bytes.Buffer
	err := runCheck(&out, configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog")
}

func TestAuditTailAndVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := audit.NewJSONLSink(path)
	require.NoError(t, err)
	logger, err := audit.NewLogger(ctx, slog.New(slog.NewTextHandler(os.Stderr, nil)), sink)
	require.NoError(t, err)

	for _, verb := range []domain.Verb{domain.VerbGetStatus, domain.VerbScale, domain.VerbRestart} {
		logger.Record(ctx, domain.AuditRecord{
			Caller:      "cli-test",
			Verb:        verb,
			Service:     "payment_processor",
			Environment: "staging",
			Decision:    domain.AuditDecisionAllowed,
			Outcome:     domain.AuditOutcomeSuccess,
		})
	}
	require.NoError(t, sink.Close())

	var verifyOut bytes.Buffer
	require.NoError(t, runAuditVerify(&verifyOut, path))
	assert.Contains(t, verifyOut.String(), "ok: 3 records, seq 1..3, chain intact")

	var tailOut bytes.Buffer
	require.NoError(t, runAuditTail(&tailOut, path, 2))
	text := tailOut.String()
	assert.NotContains(t, text, "#1", "tail of two must skip the first record")
	assert.Contains(t, text, "cli-test")
	assert.Contains(t, text, "decision=allowed outcome=success")
}

func TestVerifyFlagsTampering(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := audit.NewJSONLSink(path)
	require.NoError(t, err)
	logger, err := audit.NewLogger(ctx, slog.New(slog.NewTextHandler(os.Stderr, nil)), sink)
	require.NoError(t, err)
	logger.Record(ctx, domain.AuditRecord{Caller: "cli-test", Verb: domain.VerbScale})
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"cli-test"`), []byte(`"intruder"`), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	var out bytes.Buffer
	err = runAuditVerify(&out, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "opsplane dev")
}
