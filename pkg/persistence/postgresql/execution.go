package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const executionColumns = `
			id
		  , workflow_id
		  , trigger_kind
		  , status
		  , context
		  , error
		  , created_at
		  , started_at
		  , completed_at`

// ExecutionRepository handles execution records. Writes against a terminal row are rejected.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	return r.upsert(ctx, "Save", execution)
}

func (r *ExecutionRepository) Finish(ctx context.Context, execution *models.Execution) error {
	return r.upsert(ctx, "Finish", execution)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := `SELECT` + executionColumns + ` FROM executions WHERE workflow_id = $1 ORDER BY created_at DESC`
	args := []any{workflowID}

	if limit > 0 {
		query += ` LIMIT $2`

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

// upsert writes the record only while the stored row is not terminal.
func (r *ExecutionRepository) upsert(ctx context.Context, op string, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, trigger_kind, status, context, error, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
		WHERE executions.status NOT IN ('SUCCESS', 'FAILED')
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.TriggerKind),
		string(execution.Status),
		contextJSON,
		execution.Error,
		execution.CreatedAt,
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to %s execution %s: %w", op, execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError(op, execution.ID, persistence.ErrExecutionTerminal)
	}

	return nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution              models.Execution
		triggerKind, status    string
		contextJSON            []byte
		startedAt, completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&triggerKind,
		&status,
		&contextJSON,
		&execution.Error,
		&execution.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.TriggerKind = models.TriggerKind(triggerKind)
	execution.Status = models.ExecutionStatus(status)

	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	if startedAt.Valid {
		t := startedAt.Time.UTC()
		execution.StartedAt = &t
	}

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		execution.CompletedAt = &t
	}

	return &execution, nil
}
