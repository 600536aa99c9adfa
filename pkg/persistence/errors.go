package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionTerminal is returned for writes against a SUCCESS or FAILED record.
	ErrExecutionTerminal = errors.New("execution already finished")
	// ErrInvalidID is returned for identifiers that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid identifier")
)

// Record kinds reported by RecordError.
const (
	RecordWorkflow  = "workflow"
	RecordExecution = "execution"
)

// RecordError is a storage failure scoped to one stored record.
type RecordError struct {
	Op     string
	Record string
	ID     string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Record, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func NewWorkflowError(op, workflowID string, err error) *RecordError {
	return &RecordError{Op: op, Record: RecordWorkflow, ID: workflowID, Err: err}
}

func NewExecutionError(op, executionID string, err error) *RecordError {
	return &RecordError{Op: op, Record: RecordExecution, ID: executionID, Err: err}
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsExecutionTerminal(err error) bool {
	return errors.Is(err, ErrExecutionTerminal)
}
