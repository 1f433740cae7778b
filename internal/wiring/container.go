// Package wiring assembles the control plane from configuration: catalog,
// guardrails, audit trail, provider adapters, and the MCP server, with a
// managed start and stop order.
package wiring

import (
	"context"
	"log/slog"

	appmcp "github.com/opsforge/opsplane/internal/app/mcp"
	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/guardrail"
	"github.com/opsforge/opsplane/internal/infra/catalog"
	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/internal/infra/providers"
	"github.com/opsforge/opsplane/internal/infra/ratelimit"
	"github.com/opsforge/opsplane/internal/resolver"
	"github.com/opsforge/opsplane/internal/service"
	"github.com/opsforge/opsplane/pkg/patterns/lifecycle"
	"github.com/opsforge/opsplane/pkg/telemetry"
)

// Container holds the assembled control plane. Background resources are
// started with Start and wound down in reverse order with Stop.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Catalog    *catalog.Store
	Resolver   *resolver.Resolver
	Tokens     domain.TokenStore
	Sink       domain.AuditSink
	Auditor    domain.AuditLogger
	Registry   *providers.Registry
	Dispatcher *service.Dispatcher
	Limiter    *ratelimit.PerCaller
	Server     *appmcp.Server

	resources *lifecycle.Manager
}

// Build constructs every dependency from cfg. It fails fast: a catalog that
// does not load, an audit sink that cannot open, or an AWS configuration
// that does not resolve all abort startup.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	telemetry.Init()
	resources := lifecycle.NewManager()

	store, err := provideCatalog(cfg, logger, resources)
	if err != nil {
		return nil, err
	}

	tokens, err := provideTokenStore(cfg, logger, resources)
	if err != nil {
		return nil, err
	}

	sink, jsonlSink, err := provideAuditSink(ctx, cfg, resources)
	if err != nil {
		return nil, err
	}
	if err := provideArchiver(ctx, cfg, jsonlSink, logger, resources); err != nil {
		return nil, err
	}
	auditor, err := provideAuditor(ctx, cfg, logger, sink, resources)
	if err != nil {
		return nil, err
	}

	registry, err := provideProviders(ctx, cfg, store.Snapshot(), logger, resources)
	if err != nil {
		return nil, err
	}

	res := resolver.NewResolver(store)
	engine := guardrail.NewEngine(store, store, tokens, logger,
		guardrail.WithDefaultTTL(cfg.Guardrails.TokenTTL))
	dispatcher := service.NewDispatcher(res, engine, registry, auditor, cfg.Limits, logger)
	limiter := ratelimit.NewPerCaller(cfg.Limits)

	server := appmcp.New(appmcp.Deps{
		Dispatcher: dispatcher,
		Catalog:    res,
		Snapshots:  store,
		Recent:     sink,
		Audit:      auditor,
		Providers:  registry,
		Limiter:    limiter,
		Config:     cfg,
		Logger:     logger,
	})

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Catalog:    store,
		Resolver:   res,
		Tokens:     tokens,
		Sink:       sink,
		Auditor:    auditor,
		Registry:   registry,
		Dispatcher: dispatcher,
		Limiter:    limiter,
		Server:     server,
		resources:  resources,
	}, nil
}

// Start brings up background resources: the catalog watcher, the token
// sweeper, the async audit drain, and the archiver.
func (c *Container) Start(ctx context.Context) error {
	return c.resources.Start(ctx)
}

// Stop winds background resources down in reverse start order, so buffered
// audit records drain into the sink before it closes.
func (c *Container) Stop(ctx context.Context) error {
	return c.resources.Stop(ctx)
}
