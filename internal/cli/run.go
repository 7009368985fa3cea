package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quartzlab/auditcore/internal/identity"
	"github.com/quartzlab/auditcore/internal/rules"
	"github.com/quartzlab/auditcore/internal/state"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	RulesDir string
	DefsPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the decay and audit loop",
		Long: `Start the audit protocol engine loop.

The loop reloads the persisted state document every second, applies
vibration decay, and re-evaluates the audit rule table against the fresh
snapshot. Acts performed by other processes against the same database are
picked up on the next tick.

Example:
  auditcore run --db ./audit.db
  auditcore run --db ./audit.db --rules ./rules --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.RulesDir, "rules", "", "directory of CUE rule files (default: embedded table)")
	cmd.Flags().StringVar(&opts.DefsPath, "defs", "", "path to definitions YAML (default: embedded)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLoop(opts *RunOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	table, err := loadRules(opts.RulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}
	slog.Info("rules loaded", "count", len(table))

	e, closeEnv, err := openEnv(ctx, opts.Database, opts.DefsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer closeEnv()

	// The actor id is display-only; it tags this session's log trail.
	actor := identity.UUIDv7Generator{}.Generate()
	slog.Info("session started",
		"actor", actor,
		"protocol", e.defs.Protocol.Name,
		"version", e.defs.Protocol.Version,
	)

	ruleEngine := rules.New(table, slog.Default())

	// Each tick audits the reloaded document. The subscription covers the
	// updates this process commits itself (decay writes) so their
	// post-merge snapshots are audited without waiting for the next tick.
	unsubscribe := e.db.Subscribe(DocKey, func(snap state.SystemState) {
		ruleEngine.Evaluate(snap)
	})
	defer unsubscribe()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Decaying vibration and auditing state...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopped gracefully")
			return nil

		case <-ticker.C:
			tick(ctx, e, ruleEngine)
		}
	}
}

// tick reloads the persisted document, audits the fresh snapshot, and
// applies vibration decay. The document push replacing local state is the
// same reconciliation path a remote snapshot listener takes; evaluating
// right after the reload means acts committed by other processes are
// audited even when the gauge is idle and never writes.
func tick(ctx context.Context, e *env, ruleEngine *rules.Engine) {
	snap, err := e.db.ReadOrCreate(ctx, DocKey, e.st.Current())
	if err != nil {
		slog.Error("document reload failed", "error", err)
		return
	}
	e.st.Replace(snap)
	ruleEngine.Evaluate(snap)

	// Persist failure is already logged by the store; local decay stands.
	_ = e.gauge.Decay(ctx)
}

func loadRules(dir string) ([]rules.Rule, error) {
	if dir == "" {
		return rules.Default(), nil
	}
	return rules.LoadDir(dir)
}
