package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const workflowColumns = `
			id
		  , name
		  , description
		  , owner
		  , trigger
		  , nodes
		  , edges
		  , active
		  , last_run_at
		  , created_at
		  , updated_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns all workflows ordered by creation time.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT`+workflowColumns+` FROM workflows ORDER BY created_at ASC`)
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetBySlug(ctx context.Context, slug string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+workflowColumns+` FROM workflows WHERE trigger_kind = $1 AND trigger_slug = $2`,
		string(models.TriggerKindWebhook), slug)

	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewWorkflowError("GetBySlug", slug, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get workflow by slug %s: %w", slug, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetScheduled(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT`+workflowColumns+` FROM workflows WHERE active AND trigger_kind = $1 ORDER BY created_at ASC`,
		string(models.TriggerKindSchedule))
}

func (r *WorkflowRepository) GetByEvent(ctx context.Context, event string) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT`+workflowColumns+` FROM workflows WHERE active AND trigger_kind = $1 AND trigger_event = $2 ORDER BY created_at ASC`,
		string(models.TriggerKindEvent), event)
}

// Save inserts or updates a workflow.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	trigger, err := json.Marshal(workflow.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	nodes, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edges, err := json.Marshal(workflow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, name, description, owner, trigger, trigger_kind, trigger_slug, trigger_event,
			nodes, edges, active, last_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			owner = EXCLUDED.owner,
			trigger = EXCLUDED.trigger,
			trigger_kind = EXCLUDED.trigger_kind,
			trigger_slug = EXCLUDED.trigger_slug,
			trigger_event = EXCLUDED.trigger_event,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Owner,
		trigger,
		string(workflow.Trigger.Kind),
		nullString(workflow.Trigger.Slug),
		nullString(workflow.Trigger.Event),
		nodes,
		edges,
		workflow.Active,
		workflow.LastRunAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return r.expectOne(result, "Delete", id)
}

func (r *WorkflowRepository) MarkRun(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE workflows SET last_run_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark workflow %s as run: %w", id, err)
	}

	return r.expectOne(result, "MarkRun", id)
}

func (r *WorkflowRepository) expectOne(result sql.Result, op, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return workflows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		lastRunAt sql.NullTime
	)

	var triggerJSON, nodeJSON, edgeJSON []byte

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Owner,
		&triggerJSON,
		&nodeJSON,
		&edgeJSON,
		&workflow.Active,
		&lastRunAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerJSON, &workflow.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	if err := json.Unmarshal(nodeJSON, &workflow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgeJSON, &workflow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if lastRunAt.Valid {
		t := lastRunAt.Time.UTC()
		workflow.LastRunAt = &t
	}

	return &workflow, nil
}
