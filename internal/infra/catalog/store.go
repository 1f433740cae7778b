package catalog

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/config"
)

// Store holds the current catalog and policy snapshots and swaps them
// atomically on reload. Readers always see a complete, internally-consistent
// pair; a failed reload leaves the published snapshots untouched.
type Store struct {
	cfg    config.CatalogConfig
	logger *slog.Logger

	catalog atomic.Pointer[domain.CatalogSnapshot]
	policy  atomic.Pointer[domain.PolicySnapshot]

	generation atomic.Int64
	reloadMu   sync.Mutex
}

// NewStore loads both documents and fails fast when the initial load is bad.
func NewStore(cfg config.CatalogConfig, logger *slog.Logger) (*Store, error) {
	s := &Store{cfg: cfg, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}
	return s, nil
}

// Reload re-reads both documents from disk. The swap happens only after both
// parse and validate, so a bad edit can never partially apply.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	catalogSnap, err := LoadCatalog(s.cfg.DomainsPath, s.cfg.ProvidersPath)
	if err != nil {
		return err
	}
	policySnap, err := LoadPolicy(s.cfg.PoliciesPath)
	if err != nil {
		return err
	}

	version := s.generation.Add(1)
	now := time.Now().UTC()
	catalogSnap.Version = version
	catalogSnap.LoadedAt = now
	policySnap.Version = version
	policySnap.LoadedAt = now

	s.catalog.Store(catalogSnap)
	s.policy.Store(policySnap)

	s.logger.Info("catalog loaded",
		"version", version,
		"services", len(catalogSnap.Services),
		"environments", len(catalogSnap.Environments),
		"rules", len(policySnap.Rules),
	)
	return nil
}

// Snapshot returns the current catalog snapshot.
func (s *Store) Snapshot() *domain.CatalogSnapshot {
	return s.catalog.Load()
}

// PolicySnapshot returns the current policy snapshot.
func (s *Store) PolicySnapshot() *domain.PolicySnapshot {
	return s.policy.Load()
}

var (
	_ domain.CatalogSource = (*Store)(nil)
	_ domain.PolicySource  = (*Store)(nil)
)
