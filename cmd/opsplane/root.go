package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Set through -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
)

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "opsplane",
		Short: "Guarded infrastructure operations for AI assistants",
		Long: `opsplane exposes a curated set of infrastructure operations as MCP tools.
Every request resolves against a declarative resource catalog, passes the
guardrail policy (with two-step confirmation where required), and leaves a
tamper-evident audit record.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: configs/opsplane.yml, then ./opsplane.yml)")

	cmd.AddCommand(
		newServeCommand(&configPath),
		newCheckCommand(&configPath),
		newAuditCommand(&configPath),
		newVersionCommand(),
	)
	return cmd
}

// newLogger writes to stderr: on the stdio transport stdout carries the MCP
// wire protocol and must stay clean.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
