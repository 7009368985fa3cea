package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quartzlab/auditcore/internal/acts"
	"github.com/quartzlab/auditcore/internal/state"
)

// ActOptions holds flags shared by every act subcommand.
type ActOptions struct {
	*RootOptions
	Database string
	DefsPath string
}

// NewActCommand creates the act command group.
func NewActCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "act",
		Short: "Perform a ledger act against the persisted state",
		Long: `Perform one atomic ledger act: validate, commit, charge vibration.

A rejected act changes nothing and exits with code 1; the rejection code
and message are printed in the selected format.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.DefsPath, "defs", "", "path to definitions YAML (default: embedded)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newHaltCommand(opts))
	cmd.AddCommand(newRestartCommand(opts))
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newTransferCommand(opts))
	cmd.AddCommand(newMintCommand(opts))
	cmd.AddCommand(newExchangeCommand(opts))
	cmd.AddCommand(newInfraCommand(opts))

	return cmd
}

func newHaltCommand(opts *ActOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "halt",
		Short:         "Engage the global kill switch",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAct(cmd, opts, "system halted", func(ctx context.Context, e *env) error {
				return e.engine.Halt(ctx)
			})
		},
	}
}

func newRestartCommand(opts *ActOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "restart",
		Short:         "Release the kill switch",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return performAct(cmd, opts, "system restarted", func(ctx context.Context, e *env) error {
				return e.engine.Restart(ctx)
			})
		},
	}
}

func newCreateCommand(opts *ActOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "create <id> [name...]",
		Short:         "Create an account with zero balances",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			name := strings.Join(args[1:], " ")
			return performAct(cmd, opts, fmt.Sprintf("account %s created", id), func(ctx context.Context, e *env) error {
				return e.engine.CreateAccount(ctx, id, name)
			})
		},
	}
}

func newTransferCommand(opts *ActOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "transfer <sender> <recipient> <amount> <currency>",
		Short:         "Move funds between accounts",
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("transferred %s %s from %s to %s", args[2], args[3], args[0], args[1])
			return performAct(cmd, opts, msg, func(ctx context.Context, e *env) error {
				return e.engine.Transfer(ctx, args[0], args[1], amount, state.Currency(args[3]))
			})
		},
	}
}

func newMintCommand(opts *ActOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "mint <recipient> <amount> <currency>",
		Short:         "Issue new funds to an account",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("minted %s %s to %s", args[1], args[2], args[0])
			return performAct(cmd, opts, msg, func(ctx context.Context, e *env) error {
				return e.engine.Mint(ctx, args[0], amount, state.Currency(args[2]))
			})
		},
	}
}

func newExchangeCommand(opts *ActOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "exchange <account> <amount> <from> <to>",
		Short:         "Convert between currencies on one account",
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			var received float64
			msg := ""
			err = performAct(cmd, opts, "", func(ctx context.Context, e *env) error {
				var actErr error
				received, actErr = e.engine.Exchange(ctx, args[0], amount, state.Currency(args[2]), state.Currency(args[3]))
				msg = fmt.Sprintf("exchanged %s %s for %.2f %s on %s", args[1], args[2], received, args[3], args[0])
				return actErr
			}, withMessage(&msg))
			return err
		},
	}
}

func newInfraCommand(opts *ActOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "infra <kind> <amount>",
		Short:         "Adjust an infrastructure supply channel (ENERGY or NET)",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("infrastructure %s set to %s", args[0], args[1])
			return performAct(cmd, opts, msg, func(ctx context.Context, e *env) error {
				return e.engine.AdjustInfrastructure(ctx, state.InfraKey(args[0]), amount)
			})
		},
	}
}

// performOption tweaks performAct behavior.
type performOption func(*performConfig)

type performConfig struct {
	// message points at a success message computed inside the act
	// closure (e.g. the exchange result), overriding the static one.
	message *string
}

func withMessage(msg *string) performOption {
	return func(c *performConfig) { c.message = msg }
}

// performAct opens the environment, runs one act, and renders the outcome.
// Act rejections exit with ExitFailure; setup problems with
// ExitCommandError.
func performAct(cmd *cobra.Command, opts *ActOptions, successMsg string, act func(context.Context, *env) error, perfOpts ...performOption) error {
	var cfg performConfig
	for _, o := range perfOpts {
		o(&cfg)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, closeEnv, err := openEnv(ctx, opts.Database, opts.DefsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer closeEnv()

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if err := act(ctx, e); err != nil {
		var actErr *acts.ActError
		if errors.As(err, &actErr) {
			_ = formatter.Error(string(actErr.Code), actErr.Message, map[string]any{
				"account":  actErr.AccountID,
				"currency": actErr.Currency,
			})
			return NewExitError(ExitFailure, actErr.Error())
		}
		return WrapExitError(ExitCommandError, "act failed", err)
	}

	if cfg.message != nil {
		successMsg = *cfg.message
	}
	return formatter.Success(successMsg)
}

func parseAmount(s string) (float64, error) {
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", s), err)
	}
	return amount, nil
}
