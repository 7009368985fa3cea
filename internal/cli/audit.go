package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quartzlab/auditcore/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the persisted patch trail",
		Long: `Show the append-only patch log for the protocol state document.

Every committed act and every persisted decay step leaves one entry. The
trail is ordered by sequence number and survives restarts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries to show (0 = all)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	records, err := db.PatchLog(ctx, DocKey, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read patch log", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
		return formatter.Success(records)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d patch entries\n", len(records))
	for _, rec := range records {
		at := time.UnixMilli(rec.AppliedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(out, "  seq %-6d %s %s\n", rec.Seq, at, describePatch(rec))
	}
	return nil
}

// describePatch summarizes what a patch touched, for the text listing.
func describePatch(rec store.PatchRecord) string {
	var touched []string
	p := rec.Patch
	if p.IsHalted != nil {
		touched = append(touched, fmt.Sprintf("halted=%t", *p.IsHalted))
	}
	if p.Vibration != nil {
		touched = append(touched, fmt.Sprintf("vibration=%.2f", p.Vibration.Value))
	}
	if len(p.CurrencyRates) > 0 {
		touched = append(touched, fmt.Sprintf("rates(%d)", len(p.CurrencyRates)))
	}
	if p.Accounts != nil {
		touched = append(touched, fmt.Sprintf("accounts(%d)", len(p.Accounts)))
	}
	if len(p.Infrastructure) > 0 {
		touched = append(touched, fmt.Sprintf("infrastructure(%d)", len(p.Infrastructure)))
	}
	if len(touched) == 0 {
		return "empty patch"
	}
	summary := touched[0]
	for _, t := range touched[1:] {
		summary += " " + t
	}
	return summary
}
