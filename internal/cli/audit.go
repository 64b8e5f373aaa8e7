package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/packsale/internal/engine"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify the event log",
		Long: `Rescan the whole event log and verify it: seqs run gap-free from 1,
every event id derives from its flow and seq, and every payload matches
its digest.

Exit codes:
  0 - The log is intact
  1 - Problems were found
  2 - Command error (database not found, etc.)

Examples:
  packsale audit
  packsale audit --db ./packsale.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, cmd)
		},
	}

	return cmd
}

func runAudit(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	var report engine.AuditReport
	err := withSession(ctx, opts, opts.logger(cmd.ErrOrStderr(), slog.LevelWarn), func(s *session) error {
		var err error
		report, err = s.engine.Audit(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to scan events", err)
		}
		return nil
	})
	if err != nil {
		return f.Fail(err)
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report}
		if !report.OK() {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    "E_AUDIT_FAILED",
				Message: fmt.Sprintf("%d problem(s) found", len(report.Problems)),
			}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "=== Audit ===")
		fmt.Fprintf(w, "  Events:   %d\n", report.Events)
		fmt.Fprintf(w, "  Flows:    %d\n", report.Flows)
		fmt.Fprintf(w, "  Last Seq: %d\n", report.LastSeq)
		for _, p := range report.Problems {
			fmt.Fprintf(w, "  ✗ %s\n", p)
		}
		if report.OK() {
			fmt.Fprintln(w, "✓ Event log intact")
		}
	}

	if !report.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("audit found %d problem(s)", len(report.Problems)))
	}
	return nil
}
