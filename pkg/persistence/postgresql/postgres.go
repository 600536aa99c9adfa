// Package postgresql stores workflows and executions in PostgreSQL through database/sql and lib/pq.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 20
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

var _ persistence.Persistence = (*Persistence)(nil)

type Persistence struct {
	db         *sql.DB
	workflows  *WorkflowRepository
	executions *ExecutionRepository
}

// NewPersistence connects to databaseURL and brings the schema to the latest version.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := setup(ctx, logger, db); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &Persistence{
		db:         db,
		workflows:  NewWorkflowRepository(db, logger),
		executions: NewExecutionRepository(db, logger),
	}, nil
}

func setup(ctx context.Context, logger *slog.Logger, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := sqlbase.NewMigrationManager(logger, db, migrations()).RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close rows", "error", err)
	}
}

// nullString stores empty strings as NULL so partial unique indexes ignore them.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
