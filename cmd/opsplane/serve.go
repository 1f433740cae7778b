package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/internal/wiring"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the control plane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.ServiceVersion == "dev" {
		cfg.ServiceVersion = version
	}
	if cfg.BuildCommit == "unknown" {
		cfg.BuildCommit = commit
	}

	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := wiring.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := container.Start(ctx); err != nil {
		return err
	}

	logger.Info("opsplane started",
		"version", cfg.ServiceVersion,
		"transport", cfg.Server.Transport,
		"providers_mode", cfg.Providers.Mode,
		"catalog_version", container.Catalog.Snapshot().Version)

	var serveErr error
	switch cfg.Server.Transport {
	case "http":
		serveErr = serveHTTP(ctx, cfg, container, logger)
	default:
		serveErr = container.Server.Run(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := container.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("shutdown complete")
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, container *wiring.Container, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           container.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("http transport listening", "addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
