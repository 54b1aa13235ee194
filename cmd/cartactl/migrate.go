package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carta/api/internal/config"
	"carta/api/internal/logging"
	"carta/api/internal/store"
)

func migrateCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations.",
	}
	cmd.AddCommand(migrateStepCmd("up", "Apply every pending migration.", store.ApplyMigrations))
	cmd.AddCommand(migrateStepCmd("down", "Roll back every applied migration.", store.RollbackMigrations))
	return &cmd
}

type migrateFunc func(ctx context.Context, db *sql.DB, dir string, logger *zap.Logger) error

func migrateStepCmd(use, short string, run migrateFunc) *cobra.Command {
	var dir string
	cmd := cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			logger, err := logging.New(cfg.LogLevel, "console")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := run(cmd.Context(), db, dir, logger.Named("migrate")); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Migrations directory, defaults to CARTA_MIGRATIONS_DIR.")
	return &cmd
}
