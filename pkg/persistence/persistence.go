// Package persistence provides the storage contract for workflow definitions and execution records.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetBySlug(ctx context.Context, slug string) (*models.Workflow, error)
	// GetScheduled returns active workflows with a schedule trigger.
	GetScheduled(ctx context.Context) ([]*models.Workflow, error)
	// GetByEvent returns active workflows with an event trigger on the given name.
	GetByEvent(ctx context.Context, event string) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
	// MarkRun sets the last-run timestamp.
	MarkRun(ctx context.Context, id string, at time.Time) error
}

// ExecutionRepository stores execution records. Terminal records are never overwritten.
type ExecutionRepository interface {
	// Save inserts or updates a non-terminal record. It returns ErrExecutionTerminal
	// when the stored record already reached SUCCESS or FAILED.
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// GetByWorkflow returns the newest executions first. A limit of zero means no limit.
	GetByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
	// Finish writes a terminal record unless one was already written, in which
	// case it returns ErrExecutionTerminal.
	Finish(ctx context.Context, execution *models.Execution) error
}
