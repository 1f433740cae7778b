package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/audit"
	"github.com/opsforge/opsplane/internal/infra/catalog"
	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/internal/infra/confirm"
	"github.com/opsforge/opsplane/internal/infra/persistence"
	"github.com/opsforge/opsplane/internal/infra/providers"
	"github.com/opsforge/opsplane/pkg/patterns/lifecycle"
)

func provideCatalog(cfg *config.Config, logger *slog.Logger, resources *lifecycle.Manager) (*catalog.Store, error) {
	store, err := catalog.NewStore(cfg.Catalog, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Catalog.Watch {
		resources.Add("catalog watcher", catalog.NewWatcher(store, logger))
	}
	return store, nil
}

func provideTokenStore(cfg *config.Config, logger *slog.Logger, resources *lifecycle.Manager) (domain.TokenStore, error) {
	switch cfg.Guardrails.Store {
	case "redis":
		store := confirm.NewRedisStore(cfg.Guardrails.Redis, logger)
		resources.Add("token store", lifecycle.Func{
			StartFn: store.Ping,
			StopFn:  func(context.Context) error { return store.Close() },
		})
		return store, nil

	default:
		var opts []confirm.MemoryOption
		if cfg.Guardrails.SweepInterval > 0 {
			opts = append(opts, confirm.WithSweepInterval(cfg.Guardrails.SweepInterval))
		}
		store := confirm.NewMemoryStore(logger, opts...)
		resources.Add("token sweeper", store)
		return store, nil
	}
}

// provideAuditSink opens the configured backend and wraps it in the circuit
// breaker. The raw JSONL sink is returned alongside when that backend is
// selected, since the archiver rotates it directly.
func provideAuditSink(ctx context.Context, cfg *config.Config, resources *lifecycle.Manager) (domain.AuditSink, *audit.JSONLSink, error) {
	var (
		raw   domain.AuditSink
		jsonl *audit.JSONLSink
	)

	switch cfg.Audit.Sink {
	case "sqlite":
		sink, err := persistence.NewSQLiteSink(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite audit sink: %w", err)
		}
		raw = sink

	case "postgres":
		sink, err := persistence.NewPostgresSink(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres audit sink: %w", err)
		}
		raw = sink

	default:
		sink, err := audit.NewJSONLSink(cfg.Audit.JSONLPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening jsonl audit sink: %w", err)
		}
		raw, jsonl = sink, sink
	}

	breaker := audit.NewBreakerSink(raw, cfg.Audit.Breaker)
	resources.Add("audit sink", lifecycle.Func{
		StopFn: func(context.Context) error { return breaker.Close() },
	})
	return breaker, jsonl, nil
}

func provideArchiver(ctx context.Context, cfg *config.Config, sink *audit.JSONLSink, logger *slog.Logger, resources *lifecycle.Manager) error {
	if !cfg.Audit.Archive.Enabled {
		return nil
	}
	if sink == nil {
		return fmt.Errorf("audit archive requires the jsonl sink, not %q", cfg.Audit.Sink)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.Audit.Archive.S3Region, "")
	if err != nil {
		return err
	}
	resources.Add("audit archiver", audit.NewArchiver(sink, awsCfg, cfg.Audit.Archive, logger))
	return nil
}

func provideAuditor(ctx context.Context, cfg *config.Config, logger *slog.Logger, sink domain.AuditSink, resources *lifecycle.Manager) (domain.AuditLogger, error) {
	core, err := audit.NewLogger(ctx, logger, sink)
	if err != nil {
		return nil, fmt.Errorf("resuming audit sequence: %w", err)
	}
	if !cfg.Audit.Async.Enabled {
		return core, nil
	}

	async := audit.NewAsyncLogger(core, cfg.Audit.Async, logger)
	resources.Add("audit logger", async)
	return async, nil
}

func provideProviders(ctx context.Context, cfg *config.Config, snapshot *domain.CatalogSnapshot, logger *slog.Logger, resources *lifecycle.Manager) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	switch cfg.Providers.Mode {
	case "fake":
		fake := providers.NewFakeAdapter()
		registry.Register(fake)
		for _, provider := range CatalogProviders(snapshot) {
			registry.RegisterAs(provider, fake)
		}

	default:
		awsCfg, err := loadAWSConfig(ctx, cfg.Providers.AWS.Region, cfg.Providers.AWS.EndpointURL)
		if err != nil {
			return nil, err
		}
		cached := providers.NewCachedAdapter(providers.NewAWSAdapter(awsCfg), cfg.Providers.StatusCacheTTL)
		registry.Register(cached)
		resources.Add("provider status cache", lifecycle.Func{
			StopFn: func(context.Context) error { cached.Stop(); return nil },
		})
	}

	logger.Info("provider adapters wired",
		"mode", cfg.Providers.Mode,
		"providers", registry.Providers())
	return registry, nil
}

func loadAWSConfig(ctx context.Context, region, endpoint string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}

// CatalogProviders lists the distinct provider ids the catalog references.
func CatalogProviders(snapshot *domain.CatalogSnapshot) []string {
	seen := map[string]struct{}{}
	for _, svc := range snapshot.Services {
		for _, bindings := range svc.Environments {
			for _, binding := range bindings {
				if binding.Provider != "" {
					seen[binding.Provider] = struct{}{}
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
