// Package migrate applies the embedded ledger schema for each supported dialect.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/target/mmk-export-api/internal/data/database"
	"github.com/target/mmk-export-api/internal/data/sqlutil"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Run applies all SQL migrations embedded for dialect. It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB, dialect database.Dialect) error {
	if !dialect.Valid() {
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	files, err := Files(dialect)
	if err != nil {
		return err
	}

	logger := slog.Default().With("component", "migrations", "dialect", string(dialect))
	for _, f := range files {
		info := migrationInfo{
			versionStr: strings.TrimSuffix(path.Base(f), ".sql"),
			file:       f,
		}
		if applyErr := applyMigration(ctx, db, dialect, info, logger); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// Files lists the embedded migration files for dialect in apply order.
func Files(dialect database.Dialect) ([]string, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// migrationInfo holds information about a migration for processing.
type migrationInfo struct {
	versionStr string
	file       string
}

func migrationExists(ctx context.Context, db *sql.DB, dialect database.Dialect, info migrationInfo) (bool, error) {
	var n int
	query := dialect.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`)
	if err := db.QueryRowContext(ctx, query, info.versionStr).Scan(&n); err != nil {
		return false, fmt.Errorf("check migration %s: %w", info.file, err)
	}
	return n > 0, nil
}

func applyMigration(
	ctx context.Context,
	db *sql.DB,
	dialect database.Dialect,
	info migrationInfo,
	logger *slog.Logger,
) error {
	exists, err := migrationExists(ctx, db, dialect, info)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	sqlBytes, err := migrationsFS.ReadFile(info.file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", info.file, err)
	}

	logger.InfoContext(ctx, "applying migration", "version", info.versionStr)

	return sqlutil.WithSQLTx(ctx, db, sqlutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, execErr := tx.ExecContext(ctx, string(sqlBytes)); execErr != nil {
				return fmt.Errorf("exec migration %s: %w", info.file, execErr)
			}
			insert := dialect.Rebind(`INSERT INTO schema_migrations (version) VALUES ($1)`)
			if _, insertErr := tx.ExecContext(ctx, insert, info.versionStr); insertErr != nil {
				return fmt.Errorf("record migration %s: %w", info.file, insertErr)
			}
			return nil
		},
	})
}
