package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/google/uuid"
)

// Repository is the workflow and execution service used by the API.
type Repository struct {
	persistence persistence.Persistence
}

func NewRepository(persistence persistence.Persistence) *Repository {
	return &Repository{
		persistence: persistence,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := r.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return make([]*models.Workflow, 0), err
	}

	return workflows, nil
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create validates and stores a new workflow, assigning an ID when missing.
func (r *Repository) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	workflow.CreatedAt = time.Time{}
	workflow.LastRunAt = nil

	if err := Validate(workflow); err != nil {
		return nil, err
	}

	if err := r.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Update replaces the definition of an existing workflow, keeping its creation and last-run times.
func (r *Repository) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := r.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.CreatedAt = existing.CreatedAt
	workflow.LastRunAt = existing.LastRunAt

	if err := Validate(workflow); err != nil {
		return nil, err
	}

	if err := r.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.persistence.WorkflowRepository().Delete(ctx, id)
}

func (r *Repository) Execution(ctx context.Context, id string) (*models.Execution, error) {
	return r.persistence.ExecutionRepository().GetByID(ctx, id)
}

// Executions returns the execution history of a workflow, newest first.
func (r *Repository) Executions(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	if _, err := r.FetchByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return r.persistence.ExecutionRepository().GetByWorkflow(ctx, workflowID, limit)
}

// Cancel marks a non-terminal execution FAILED. Running traversals observe it at their next node boundary.
func (r *Repository) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	executions := r.persistence.ExecutionRepository()

	execution, err := executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return execution, persistence.NewExecutionError("Cancel", id, persistence.ErrExecutionTerminal)
	}

	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.Error = CancelledMessage
	execution.CompletedAt = &completedAt

	if err := executions.Finish(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to cancel execution %s: %w", id, err)
	}

	return execution, nil
}
