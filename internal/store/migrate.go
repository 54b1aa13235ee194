package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.uber.org/zap"
)

// migrationLockID serializes migrations of API instances starting together.
const migrationLockID = 7_451_003

var migrationFile = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

// Migration is one numbered schema change with its rollback.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// LoadMigrations reads the migrations of dir in version order. Every
// version needs exactly one up and one down file.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		path := filepath.Join(dir, entry.Name())
		switch {
		case direction == "up" && m.Up == "":
			m.Up, m.Name = path, entry.Name()
		case direction == "down" && m.Down == "":
			m.Down = path
		default:
			return nil, fmt.Errorf("duplicate %s migration for version %s", direction, version)
		}
	}
	if len(byVersion) == 0 {
		return nil, fmt.Errorf("no migrations in %s", dir)
	}

	migrations := make([]Migration, 0, len(byVersion))
	for version, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// ApplyMigrations runs every pending up migration, each in its own
// transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	for _, m := range migrations {
		applied, err := runMigration(ctx, db, m, func(ctx context.Context, tx *sql.Tx) (bool, error) {
			done, err := isMigrated(ctx, tx, m.Name)
			if err != nil || done {
				return false, err
			}
			if err := execFile(ctx, tx, m.Up); err != nil {
				return false, err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Name); err != nil {
				return false, fmt.Errorf("record migration %s: %w", m.Name, err)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		if applied {
			logger.Info("migration applied", zap.String("migration", m.Name))
		}
	}
	return nil
}

// RollbackMigrations runs the down migration of every applied version,
// newest first.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		reverted, err := runMigration(ctx, db, m, func(ctx context.Context, tx *sql.Tx) (bool, error) {
			done, err := isMigrated(ctx, tx, m.Name)
			if err != nil || !done {
				return false, err
			}
			if err := execFile(ctx, tx, m.Down); err != nil {
				return false, err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, m.Name); err != nil {
				return false, fmt.Errorf("forget migration %s: %w", m.Name, err)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		if reverted {
			logger.Info("migration reverted", zap.String("migration", m.Name))
		}
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m Migration, step func(context.Context, *sql.Tx) (bool, error)) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration tx %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("lock migrations: %w", err)
	}
	changed, err := step(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", m.Name, err)
	}
	return changed, nil
}

func execFile(ctx context.Context, tx *sql.Tx, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute migration %s: %w", filepath.Base(path), err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, tx *sql.Tx, version string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
