package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quartzlab/auditcore/internal/rules"
)

// RulesOptions holds flags for the rules command group.
type RulesOptions struct {
	*RootOptions
	Database string
	RulesDir string
	DefsPath string
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and evaluate the audit rule table",
	}

	cmd.PersistentFlags().StringVar(&opts.RulesDir, "rules", "", "directory of CUE rule files (default: embedded table)")

	cmd.AddCommand(newRulesListCommand(opts))
	cmd.AddCommand(newRulesEvalCommand(opts))

	return cmd
}

func newRulesListCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List the compiled rule table",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadRules(opts.RulesDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load rules", err)
			}

			if opts.Format == "json" {
				formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
				return formatter.Success(table)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d rules\n", len(table))
			for _, r := range table {
				fmt.Fprintf(out, "  %-24s cost %-4.1f %s\n", r.ID, r.VibrationCost, r.Description)
			}
			return nil
		},
	}
}

func newRulesEvalCommand(opts *RulesOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "eval",
		Short:         "Evaluate the rule table against the persisted state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesEval(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.DefsPath, "defs", "", "path to definitions YAML (default: embedded)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRulesEval(opts *RulesOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	table, err := loadRules(opts.RulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	e, closeEnv, err := openEnv(ctx, opts.Database, opts.DefsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer closeEnv()

	engine := rules.New(table, slog.Default())
	report := engine.Evaluate(e.st.Current())

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
		return formatter.Success(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Evaluated %d rules, %d fired\n", report.Evaluated, len(report.Fired))
	for _, f := range report.Fired {
		fmt.Fprintf(out, "  %-24s cost %-4.1f %s\n", f.RuleID, f.VibrationCost, f.Description)
	}
	return nil
}
