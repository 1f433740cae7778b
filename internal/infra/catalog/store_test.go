package catalog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/internal/infra/config"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	domainsPath := filepath.Join(dir, "domains.yml")
	require.NoError(t, os.WriteFile(domainsPath, []byte(domainsFixture), 0o600))

	store, err := NewStore(config.CatalogConfig{
		DomainsPath:  domainsPath,
		PoliciesPath: filepath.Join(dir, "policies.yml"),
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return store, domainsPath
}

func TestStoreInitialLoad(t *testing.T) {
	store, _ := newTestStore(t)

	snap := store.Snapshot()
	require.NotNil(t, snap)
	assert.EqualValues(t, 1, snap.Version)
	assert.Contains(t, snap.Services, "payment_processor")

	policy := store.PolicySnapshot()
	require.NotNil(t, policy)
	assert.EqualValues(t, 1, policy.Version)
}

func TestStoreReloadSwapsSnapshot(t *testing.T) {
	store, domainsPath := newTestStore(t)
	before := store.Snapshot()

	require.NoError(t, os.WriteFile(domainsPath, []byte(`
services:
  payment_processor:
    dev:
      compute:
        provider: aws
        kind: asg
        ref: payment-asg-dev
`), 0o600))
	require.NoError(t, store.Reload())

	after := store.Snapshot()
	assert.Greater(t, after.Version, before.Version)
	assert.NotContains(t, after.Services["payment_processor"].Environments, "prod")

	// The old snapshot is untouched for anyone still holding it.
	assert.Contains(t, before.Services["payment_processor"].Environments, "prod")
}

func TestStoreRejectsBadReload(t *testing.T) {
	store, domainsPath := newTestStore(t)
	before := store.Snapshot()

	require.NoError(t, os.WriteFile(domainsPath, []byte("services: [not, a, mapping"), 0o600))
	require.Error(t, store.Reload())

	assert.Same(t, before, store.Snapshot())
}

func TestStoreFailsFastOnBadInitialLoad(t *testing.T) {
	dir := t.TempDir()
	domainsPath := filepath.Join(dir, "domains.yml")
	require.NoError(t, os.WriteFile(domainsPath, []byte("services: ["), 0o600))

	_, err := NewStore(config.CatalogConfig{
		DomainsPath:  domainsPath,
		PoliciesPath: filepath.Join(dir, "policies.yml"),
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.Error(t, err)
}
