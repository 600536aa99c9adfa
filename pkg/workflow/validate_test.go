package workflow_test

import (
	"context"
	"testing"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(w *models.Workflow)
		problem string
	}{
		{
			name:   "valid",
			mutate: func(*models.Workflow) {},
		},
		{
			name: "missing trigger node",
			mutate: func(w *models.Workflow) {
				w.Nodes = w.Nodes[1:]
				w.Edges = nil
			},
			problem: "exactly one trigger node",
		},
		{
			name: "two trigger nodes",
			mutate: func(w *models.Workflow) {
				w.Nodes = append(w.Nodes, &models.Node{ID: "start2", Kind: models.NodeKindTrigger})
			},
			problem: "found 2",
		},
		{
			name: "edge to unknown node",
			mutate: func(w *models.Workflow) {
				w.Edges = append(w.Edges, edge("a", "ghost", ""))
			},
			problem: "unknown target node",
		},
		{
			name: "unknown action type",
			mutate: func(w *models.Workflow) {
				w.Nodes[1].Config = map[string]any{"type": "ftp"}
			},
			problem: "unknown action type",
		},
		{
			name: "condition label on action edge",
			mutate: func(w *models.Workflow) {
				w.Edges[1].Label = "true"
			},
			problem: "is not valid on a action node",
		},
		{
			name: "bad cron",
			mutate: func(w *models.Workflow) {
				w.Trigger = models.TriggerSpec{Kind: models.TriggerKindSchedule, Cron: "every day"}
			},
			problem: "invalid cron expression",
		},
		{
			name: "cron that never fires",
			mutate: func(w *models.Workflow) {
				w.Trigger = models.TriggerSpec{Kind: models.TriggerKindSchedule, Cron: "0 0 30 2 *"}
			},
			problem: "schedule never fires",
		},
		{
			name: "webhook without slug",
			mutate: func(w *models.Workflow) {
				w.Trigger = models.TriggerSpec{Kind: models.TriggerKindWebhook}
			},
			problem: "required_if",
		},
		{
			name: "condition without expression",
			mutate: func(w *models.Workflow) {
				w.Nodes = append(w.Nodes, &models.Node{ID: "check", Kind: models.NodeKindCondition})
			},
			problem: "condition requires an expression",
		},
		{
			name: "delay without duration",
			mutate: func(w *models.Workflow) {
				w.Nodes = append(w.Nodes, &models.Node{ID: "wait", Kind: models.NodeKindDelay, Config: map[string]any{"duration": "soon"}})
			},
			problem: "delay requires a duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wf := newWorkflow(
				[]*models.Node{trigger(), action("a"), action("b")},
				[]*models.Edge{edge("start", "a", ""), edge("a", "b", "")},
			)
			tt.mutate(wf)

			err := workflow.Validate(wf)
			if tt.problem == "" {
				assert.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, workflow.ErrInvalidWorkflow)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestRepository_CreateUpdateCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())
	repo := workflow.NewRepository(p)

	_, err := repo.Create(ctx, newWorkflow([]*models.Node{action("a")}, nil))
	require.ErrorIs(t, err, workflow.ErrInvalidWorkflow)

	wf := newWorkflow([]*models.Node{trigger(), action("a")}, []*models.Edge{edge("start", "a", "")})
	wf.ID = ""

	created, err := repo.Create(ctx, wf)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	update := newWorkflow([]*models.Node{trigger()}, nil)
	update.Name = "renamed"

	updated, err := repo.Update(ctx, created.ID, update)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = repo.Update(ctx, "missing", update)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	execution := models.NewExecution("exec-1", created.ID, models.TriggerKindManual, nil)
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	cancelled, err := repo.Cancel(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, cancelled.Status)

	_, err = repo.Cancel(ctx, "exec-1")
	assert.True(t, persistence.IsExecutionTerminal(err))

	history, err := repo.Executions(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, workflow.CancelledMessage, history[0].Error)

	msg, ok := repo.HealthCheck(ctx)
	assert.True(t, ok, msg)
}
