// Command cartactl is the operator tool of the menu API: it runs schema
// migrations, audits and upgrades stored documents and issues access tokens.
package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carta/api/internal/config"
	"carta/api/internal/logging"
	"carta/api/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:           "cartactl",
		Short:         "Operate the carta menu API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(docsCmd())
	cmd.AddCommand(tokenCmd())
	cmd.AddCommand(migrateCmd())
	return &cmd
}

// withStore runs fn against the configured database. Migrations are not
// applied; cartactl works on a database the API already set up.
func withStore(ctx context.Context, fn func(*store.PostgresStore, *zap.Logger) error) error {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var db *sql.DB
	db, err = store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(store.NewPostgresStore(db), logger.Named("cartactl"))
}
