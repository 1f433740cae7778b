package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opsforge/opsplane/internal/guardrail"
	"github.com/opsforge/opsplane/internal/infra/catalog"
	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/internal/wiring"
)

func newCheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration, catalog, and policy documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.OutOrStdout(), *configPath)
		},
	}
}

func runCheck(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintf(out, "config: ok (transport %s, guardrail store %s, audit sink %s, providers %s)\n",
		cfg.Server.Transport, cfg.Guardrails.Store, cfg.Audit.Sink, cfg.Providers.Mode)

	store, err := catalog.NewStore(cfg.Catalog, newLogger("error"))
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	snap := store.Snapshot()
	bindings := 0
	for _, svc := range snap.Services {
		for _, envBindings := range svc.Environments {
			bindings += len(envBindings)
		}
	}
	fmt.Fprintf(out, "catalog: ok (v%d, %d services, %d bindings, environments %s)\n",
		snap.Version, len(snap.Services), bindings, orNone(sortedKeys(snap.Environments)))

	pol := store.PolicySnapshot()
	ttl := pol.TokenTTL
	if ttl <= 0 {
		ttl = cfg.Guardrails.TokenTTL
	}
	if ttl <= 0 {
		ttl = guardrail.DefaultTokenTTL
	}
	fmt.Fprintf(out, "policy: ok (%d rules, scale bounds for %s, blackouts for %s, token ttl %s)\n",
		len(pol.Rules), orNone(sortedKeys(pol.ScaleBounds)), orNone(sortedKeys(pol.Blackouts)), ttl)

	referenced := wiring.CatalogProviders(snap)
	if cfg.Providers.Mode == "fake" {
		fmt.Fprintf(out, "providers: fake mode covers %s\n", orNone(referenced))
		return nil
	}
	for _, provider := range referenced {
		if provider != "aws" {
			fmt.Fprintf(out, "warning: no adapter for provider %q, its bindings cannot dispatch\n", provider)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func orNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, " ")
}
