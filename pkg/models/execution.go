package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "PENDING"
	ExecutionStatusRunning ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// Execution is the run record of one workflow execution. It is never reused
// across runs and never mutated once terminal.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	TriggerKind TriggerKind     `json:"trigger_kind,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Context     map[string]any  `json:"context"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewExecution creates a PENDING execution seeded with the trigger payload.
func NewExecution(id, workflowID string, kind TriggerKind, payload map[string]any) *Execution {
	if payload == nil {
		payload = make(map[string]any)
	}

	return &Execution{
		ID:          id,
		WorkflowID:  workflowID,
		TriggerKind: kind,
		Status:      ExecutionStatusPending,
		Context:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}
