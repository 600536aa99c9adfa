package web

import (
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

// WorkflowRequest is the body of workflow create and update calls.
type WorkflowRequest struct {
	Name        string             `json:"name"        validate:"required,min=3"`
	Description string             `json:"description"`
	Owner       string             `json:"owner"`
	Trigger     models.TriggerSpec `json:"trigger"`
	Nodes       []*models.Node     `json:"nodes"       validate:"required,min=1"`
	Edges       []*models.Edge     `json:"edges"`
	Active      bool               `json:"active"`
}

func (r WorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		Owner:       r.Owner,
		Trigger:     r.Trigger,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Active:      r.Active,
	}
}

type TriggerResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ExecutionResponse is the public view of an execution record.
type ExecutionResponse struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	TriggerKind models.TriggerKind     `json:"trigger_kind"`
	Status      models.ExecutionStatus `json:"status"`
	Context     map[string]any         `json:"context"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func NewExecutionResponse(execution *models.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:          execution.ID,
		WorkflowID:  execution.WorkflowID,
		TriggerKind: execution.TriggerKind,
		Status:      execution.Status,
		Context:     execution.Context,
		Error:       execution.Error,
		CreatedAt:   execution.CreatedAt,
		StartedAt:   execution.StartedAt,
		CompletedAt: execution.CompletedAt,
	}
}
