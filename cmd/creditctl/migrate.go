package main

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/creditline/internal/repository"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Apply the creditline schema to the configured database.

Every statement is idempotent, so running migrate against an up to date
database changes nothing.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	slog.Info("running database migrations",
		"driver", cfg.Repository.Driver,
		"sqlite_path", cfg.Repository.SQLitePath,
		"postgres_host", cfg.Repository.PostgresHost,
	)

	// New applies the schema before returning.
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = repo.Close() }()

	if err := repo.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("database unreachable after migration: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
	return nil
}
