// creditline - Credit approval that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command creditctl is the operator CLI: schema migration, bulk import,
// EMI quotes, offline decisions and load tests against a running server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensource-finance/creditline/internal/config"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	cfgFile string
	cfg     *domain.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "creditctl",
		Short: "Operator tooling for creditline",
		Long: `creditctl manages a creditline deployment: it migrates the schema,
imports customer and loan spreadsheets, quotes EMIs and runs credit
decisions straight against the configured database.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CREDITLINE_CONFIG"), "config file (default: ./creditline.yaml or ./configs/creditline.yaml)")
	root.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(migrateCmd())
	root.AddCommand(importCmd())
	root.AddCommand(emiCmd())
	root.AddCommand(decideCmd())
	root.AddCommand(benchCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads the shared configuration and installs the logger.
// Commands that never touch storage still get a validated config.
func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loaded.Logging.Level = level
	}
	logger, err := config.NewLogger(domain.LoggingConfig{Level: loaded.Logging.Level, Format: "text"}, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg = loaded
	return nil
}
