package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sushant-115/gojotxn/config"
	"github.com/sushant-115/gojotxn/core/commit"
	"github.com/sushant-115/gojotxn/internal/scenario"
	"github.com/sushant-115/gojotxn/internal/shell"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"github.com/sushant-115/gojotxn/pkg/logger"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

// app is everything a subcommand needs, built once per invocation.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	env      scenario.Env
	shutdown telemetry.ShutdownFunc
}

func (a *app) close() {
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Error("Telemetry shutdown failed.", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "gojotxn",
		Short:         "Snapshot-isolated transactions and atomic commit rounds",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log", "", "log level: debug, info, warning, error, critical")

	root.AddCommand(
		newMVCCCmd(opts),
		newRoundCmd(opts, "one-phase", commit.OnePhase),
		newRoundCmd(opts, "two-phase", commit.TwoPhase),
		newShellCmd(opts),
	)
	return root
}

func newMVCCCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mvcc",
		Short: "Commit one transaction and roll back another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("Running MVCC Algorithm")
			_, err = scenario.RunMVCC(a.env)
			return err
		},
	}
}

func newRoundCmd(opts *rootOptions, name string, strategy commit.Strategy) *cobra.Command {
	var rawVotes []string
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Run a %s commit round over static participants", name),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			votes, err := shell.ParseVotes(rawVotes)
			if err != nil {
				return err
			}
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("Running commit round.", zap.Stringer("strategy", strategy))
			round := scenario.RunRound(cmd.Context(), a.env, strategy, votes)
			fmt.Fprintln(cmd.OutOrStdout(), shell.FormatRound(round))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&rawVotes, "votes", []string{"true", "true", "true"},
		"participant votes in order (true/false, ready/notready, commit/abort)")
	return cmd
}

func newShellCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell over a transaction manager and coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.close()

			rl, err := shell.NewReadline(a.cfg.Shell)
			if err != nil {
				return fmt.Errorf("failed to open line editor: %w", err)
			}
			defer rl.Close()

			return shell.New(a.env).Run(cmd.Context(), rl, rl.Stdout())
		},
	}
}

// setup loads configuration and builds the logger and telemetry.
func setup(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logger.Level = normalizeLevel(opts.logLevel)
		if !logger.ValidLevel(cfg.Logger.Level) {
			return nil, fmt.Errorf("unknown log level %q", opts.logLevel)
		}
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	txnMetrics, err := internaltelemetry.NewTxnMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register transaction metrics: %w", err)
	}
	roundMetrics, err := internaltelemetry.NewRoundMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register commit metrics: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: log,
		env: scenario.Env{
			Logger:       log,
			Tracer:       tel.Tracer,
			TxnMetrics:   txnMetrics,
			RoundMetrics: roundMetrics,
		},
		shutdown: shutdown,
	}, nil
}

// normalizeLevel maps the level names accepted on the command line onto zap's.
func normalizeLevel(level string) string {
	switch l := strings.ToLower(level); l {
	case "warning":
		return "warn"
	case "critical":
		return "fatal"
	default:
		return l
	}
}
