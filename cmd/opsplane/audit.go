package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsforge/opsplane/internal/infra/audit"
	"github.com/opsforge/opsplane/internal/infra/config"
)

func newAuditCommand(configPath *string) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "",
		"audit segment to read (default: audit.jsonl_path from config)")

	var lines int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			segment, err := auditSegment(path, *configPath)
			if err != nil {
				return err
			}
			return runAuditTail(cmd.OutOrStdout(), segment, lines)
		},
	}
	tail.Flags().IntVarP(&lines, "lines", "n", 20, "number of records to print")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain of an audit segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			segment, err := auditSegment(path, *configPath)
			if err != nil {
				return err
			}
			return runAuditVerify(cmd.OutOrStdout(), segment)
		},
	}

	cmd.AddCommand(tail, verify)
	return cmd
}

func auditSegment(flagPath, configPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Audit.Sink != "jsonl" {
		return "", fmt.Errorf("audit sink is %q; pass --path to read a jsonl segment", cfg.Audit.Sink)
	}
	return cfg.Audit.JSONLPath, nil
}

func runAuditTail(out io.Writer, path string, lines int) error {
	records, err := audit.Tail(path, lines)
	if err != nil {
		return err
	}

	for _, rec := range records {
		fmt.Fprintf(out, "#%-6d %s  %-12s %-10s %s/%s  decision=%s outcome=%s",
			rec.Seq, rec.Time.UTC().Format(time.RFC3339), rec.Caller, rec.Verb,
			rec.Service, rec.Environment, rec.Decision, rec.Outcome)
		if rec.Detail != "" {
			fmt.Fprintf(out, "  (%s)", rec.Detail)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runAuditVerify(out io.Writer, path string) error {
	report, err := audit.Verify(path)
	if err != nil {
		return err
	}

	if report.Records == 0 {
		fmt.Fprintln(out, "ok: empty segment")
		return nil
	}

	fmt.Fprintf(out, "ok: %d records, seq %d..%d, chain intact\n",
		report.Records, report.FirstSeq, report.LastSeq)
	for _, gap := range report.Gaps {
		if gap.From == gap.To {
			fmt.Fprintf(out, "warning: seq %d missing (dropped during degraded persistence)\n", gap.From)
		} else {
			fmt.Fprintf(out, "warning: seq %d..%d missing (dropped during degraded persistence)\n", gap.From, gap.To)
		}
	}
	return nil
}
