// Package sqlbase holds the schema migration runner shared by the SQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// migrationLockID keys the advisory lock taken while migrating, so the API,
// worker and scheduler binaries can start against one database at once.
const migrationLockID = 7_301_452

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`

// MigrationManager applies numbered SQL migrations, each in its own transaction.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func NewMigrationManager(logger *slog.Logger, db *sql.DB, migrations map[int]string) *MigrationManager {
	return &MigrationManager{
		db:         db,
		logger:     logger.With("module", "migrations"),
		migrations: migrations,
	}
}

// LatestVersion is the highest migration version known to the manager.
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return slices.Max(slices.Collect(maps.Keys(m.migrations)))
}

// RunMigrations applies every migration newer than the stored schema version.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	pending := 0

	for _, version := range slices.Sorted(maps.Keys(m.migrations)) {
		if version <= current {
			continue
		}

		applied, err := m.apply(ctx, version)
		if err != nil {
			return err
		}

		if applied {
			pending++
		}
	}

	m.logger.InfoContext(ctx, "Schema up to date", "version", m.LatestVersion(), "applied", pending)

	return nil
}

// CurrentVersion returns the highest applied schema version.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version int

	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	return version, nil
}

// apply runs one migration under the advisory lock. It reports false when
// another process applied the version while this one waited for the lock.
func (m *MigrationManager) apply(ctx context.Context, version int) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("failed to lock migration %d: %w", version, err)
	}

	var done bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&done); err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}

	if done {
		return false, nil
	}

	m.logger.InfoContext(ctx, "Applying migration", "version", version)

	if _, err := tx.ExecContext(ctx, m.migrations[version]); err != nil {
		return false, fmt.Errorf("failed to execute migration %d: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return false, fmt.Errorf("failed to record migration %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit migration %d: %w", version, err)
	}

	return true, nil
}
