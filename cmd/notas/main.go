// Notas - Fiscal records behind one query layer.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/notas/internal/audit"
	"github.com/opensource-finance/notas/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "notas",
		Short:         "Notas - fiscal records behind one query layer",
		Long:          "Serves taxpayers, addresses and invoices over REST and GraphQL with shared pagination, ordering, filtering and projection.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "notas %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	})

	return cmd
}

// setup loads configuration and installs the application logger.
func setup(opts *rootOptions) (*domain.Config, error) {
	cfg, err := loadConfig(opts.configPath, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if opts.debug || os.Getenv("NOTAS_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	handlerOpts := &slog.HandlerOptions{Level: audit.ParseLevel(cfg.Logging.Level)}
	var h slog.Handler
	if cfg.Logging.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(h))
	return cfg, nil
}
