package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quartzlab/auditcore/internal/gauge"
	"github.com/quartzlab/auditcore/internal/state"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	DefsPath string
}

// statusView is the JSON shape of a state snapshot.
type statusView struct {
	Halted         bool                 `json:"halted"`
	Vibration      float64              `json:"vibration"`
	VibrationLimit float64              `json:"vibration_limit"`
	Rates          map[string]float64   `json:"rates"`
	Accounts       []accountView        `json:"accounts"`
	Infrastructure map[string]infraView `json:"infrastructure"`
	Supply         map[string]float64   `json:"supply"`
}

type accountView struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Balances map[string]float64 `json:"balances"`
}

type infraView struct {
	Value      float64 `json:"value"`
	LastChange int64   `json:"last_change"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show the current protocol state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.DefsPath, "defs", "", "path to definitions YAML (default: embedded)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, closeEnv, err := openEnv(ctx, opts.Database, opts.DefsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer closeEnv()

	snap := e.st.Current()
	view := buildStatusView(snap)

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
		return formatter.Success(view)
	}

	printStatus(cmd, view)
	return nil
}

func buildStatusView(snap state.SystemState) statusView {
	view := statusView{
		Halted:         snap.IsHalted,
		Vibration:      snap.Vibration.Value,
		VibrationLimit: gauge.Limit,
		Rates:          map[string]float64{},
		Infrastructure: map[string]infraView{},
		Supply:         map[string]float64{},
	}

	for cur, rate := range snap.CurrencyRates {
		view.Rates[string(cur)] = rate
		view.Supply[string(cur)] = snap.Supply(cur)
	}
	for key, entry := range snap.Infrastructure {
		view.Infrastructure[string(key)] = infraView{Value: entry.Value, LastChange: entry.LastChange}
	}
	for _, acc := range snap.Accounts {
		av := accountView{ID: acc.ID, Name: acc.Name, Balances: map[string]float64{}}
		for cur, bal := range acc.Balances {
			av.Balances[string(cur)] = bal
		}
		view.Accounts = append(view.Accounts, av)
	}
	sort.Slice(view.Accounts, func(i, j int) bool { return view.Accounts[i].ID < view.Accounts[j].ID })

	return view
}

func printStatus(cmd *cobra.Command, view statusView) {
	out := cmd.OutOrStdout()

	mode := "OPERATIONAL"
	if view.Halted {
		mode = "HALTED"
	}
	fmt.Fprintf(out, "System:    %s\n", mode)
	fmt.Fprintf(out, "Vibration: %.2f / %.0f\n", view.Vibration, view.VibrationLimit)

	fmt.Fprintln(out, "Currencies:")
	for _, code := range sortedKeys(view.Rates) {
		fmt.Fprintf(out, "  %-8s rate %-10.4f supply %.2f\n", code, view.Rates[code], view.Supply[code])
	}

	fmt.Fprintln(out, "Infrastructure:")
	for _, key := range sortedKeys(view.Infrastructure) {
		fmt.Fprintf(out, "  %-8s %.1f\n", key, view.Infrastructure[key].Value)
	}

	fmt.Fprintf(out, "Accounts (%d):\n", len(view.Accounts))
	for _, acc := range view.Accounts {
		fmt.Fprintf(out, "  %s (%s)\n", acc.ID, acc.Name)
		for _, code := range sortedKeys(acc.Balances) {
			fmt.Fprintf(out, "    %-8s %.2f\n", code, acc.Balances[code])
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
