package warehouse

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/db"
	"github.com/sells-group/market-forecast/internal/resilience"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockID = 4_201_907

// Migrate applies pending SQL migrations in lexicographic order, recording
// each in analytics.schema_migrations. An advisory lock serialises
// concurrent runs.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "warehouse.migrate"))

	err := resilience.Do(ctx, resilience.Query("migration lock"), func(ctx context.Context) error {
		_, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID)
		return err
	})
	if err != nil {
		return eris.Wrap(err, "warehouse: acquire migration lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS analytics;
		CREATE TABLE IF NOT EXISTS analytics.schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`); err != nil {
		return eris.Wrap(err, "warehouse: ensure migration table")
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "warehouse: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if err := applyMigration(ctx, pool, name, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one file and records it in the same transaction.
func applyMigration(ctx context.Context, pool db.Pool, name, sql string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "warehouse: begin migration %s", name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "warehouse: apply migration %s", name)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO analytics.schema_migrations (filename) VALUES ($1)", name); err != nil {
		return eris.Wrapf(err, "warehouse: record migration %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "warehouse: commit migration %s", name)
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM analytics.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
