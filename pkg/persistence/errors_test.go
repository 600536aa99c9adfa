package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *persistence.RecordError
		record   string
		contains []string
		is       error
	}{
		{
			name:     "workflow",
			err:      persistence.NewWorkflowError("Delete", "workflow-123", persistence.ErrWorkflowNotFound),
			record:   persistence.RecordWorkflow,
			contains: []string{"Delete", "workflow-123", "workflow not found"},
			is:       persistence.ErrWorkflowNotFound,
		},
		{
			name:     "execution",
			err:      persistence.NewExecutionError("Finish", "exec-1", persistence.ErrExecutionTerminal),
			record:   persistence.RecordExecution,
			contains: []string{"Finish", "exec-1", "already finished"},
			is:       persistence.ErrExecutionTerminal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.record, tt.err.Record)
			assert.ErrorIs(t, tt.err, tt.is)

			for _, s := range tt.contains {
				assert.Contains(t, tt.err.Error(), s)
			}

			var target *persistence.RecordError
			require.ErrorAs(t, fmt.Errorf("wrapped: %w", tt.err), &target)
			assert.Equal(t, tt.err.ID, target.ID)
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	notFound := persistence.NewWorkflowError("GetByID", "w", persistence.ErrWorkflowNotFound)
	terminal := persistence.NewExecutionError("Save", "e", persistence.ErrExecutionTerminal)

	assert.True(t, persistence.IsWorkflowNotFound(notFound))
	assert.False(t, persistence.IsExecutionNotFound(notFound))
	assert.True(t, persistence.IsExecutionTerminal(terminal))
	assert.False(t, persistence.IsExecutionTerminal(errors.New("execution already finished")))
}
