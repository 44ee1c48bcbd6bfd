package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/flsim"
	"github.com/absmach/flsim/cli"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "flsim",
		Short: "Energy-aware federated learning simulator",
		Long: "flsim replays device resource traces and runs federated learning rounds\n" +
			"under energy-aware, random or unconstrained client selection.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flsim.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}

			logger := configureLogger(cfg.Log.Level)
			slog.SetDefault(logger)

			cli.SetConfig(cfg)
			cli.SetLogger(logger)

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML configuration file")
	root.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level: debug, info, warn or error")

	root.AddCommand(
		cli.NewRunCmd(),
		cli.NewCompareCmd(),
		cli.NewServeCmd(),
		cli.NewTraceCmd(),
		cli.NewInitCmd(),
		cli.NewWatchCmd(),
	)

	return root
}

func configureLogger(level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("Invalid log level: %s. Defaulting to info.\n", level)
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(logHandler)
}
