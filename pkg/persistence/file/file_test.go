package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(id string, trigger models.TriggerSpec, active bool) *models.Workflow {
	return &models.Workflow{
		ID:      id,
		Name:    "workflow " + id,
		Trigger: trigger,
		Active:  active,
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindTrigger},
		},
	}
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := file.NewPersistence("file://" + t.TempDir())
	repo := p.WorkflowRepository()

	workflow := newWorkflow("wf-1", models.TriggerSpec{Kind: models.TriggerKindManual}, true)
	require.NoError(t, repo.Save(ctx, workflow))
	assert.False(t, workflow.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "workflow wf-1", got.Name)
	require.Len(t, got.Nodes, 1)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	require.NoError(t, repo.Delete(ctx, "wf-1"))
	_, err = repo.GetByID(ctx, "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.True(t, persistence.IsWorkflowNotFound(repo.Delete(ctx, "wf-1")))
}

func TestWorkflowRepository_RejectsTraversal(t *testing.T) {
	t.Parallel()

	repo := file.NewWorkflowRepository(t.TempDir())

	tests := []string{"../escape", "a/b", "", ".hidden"}
	for _, id := range tests {
		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, persistence.ErrInvalidID, id)
	}
}

func TestWorkflowRepository_Queries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewWorkflowRepository(t.TempDir())

	require.NoError(t, repo.Save(ctx, newWorkflow("cron-on", models.TriggerSpec{Kind: models.TriggerKindSchedule, Cron: "* * * * *"}, true)))
	require.NoError(t, repo.Save(ctx, newWorkflow("cron-off", models.TriggerSpec{Kind: models.TriggerKindSchedule, Cron: "* * * * *"}, false)))
	require.NoError(t, repo.Save(ctx, newWorkflow("hook", models.TriggerSpec{Kind: models.TriggerKindWebhook, Slug: "orders"}, true)))
	require.NoError(t, repo.Save(ctx, newWorkflow("evt", models.TriggerSpec{Kind: models.TriggerKindEvent, Event: "user.created"}, true)))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	scheduled, err := repo.GetScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "cron-on", scheduled[0].ID)

	hook, err := repo.GetBySlug(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "hook", hook.ID)

	_, err = repo.GetBySlug(ctx, "nope")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	byEvent, err := repo.GetByEvent(ctx, "user.created")
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, "evt", byEvent[0].ID)

	at := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	require.NoError(t, repo.MarkRun(ctx, "cron-on", at))

	got, err := repo.GetByID(ctx, "cron-on")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, at.Equal(*got.LastRunAt))
}

func TestExecutionRepository_TerminalRecordIsFinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewExecutionRepository(t.TempDir())

	execution := models.NewExecution("exec-1", "wf-1", models.TriggerKindManual, map[string]any{"id": "42"})
	require.NoError(t, repo.Save(ctx, execution))

	execution.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.Save(ctx, execution))

	cancelled := *execution
	cancelled.Status = models.ExecutionStatusFailed
	cancelled.Error = "cancelled"
	require.NoError(t, repo.Finish(ctx, &cancelled))

	execution.Status = models.ExecutionStatusSuccess
	err := repo.Finish(ctx, execution)
	assert.True(t, persistence.IsExecutionTerminal(err))

	err = repo.Save(ctx, execution)
	assert.True(t, persistence.IsExecutionTerminal(err))

	stored, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "cancelled", stored.Error)
	assert.Equal(t, "42", stored.Context["id"])
}

func TestExecutionRepository_GetByWorkflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewExecutionRepository(t.TempDir())

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		execution := models.NewExecution(id, "wf-1", models.TriggerKindManual, nil)
		execution.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, execution))
	}

	require.NoError(t, repo.Save(ctx, models.NewExecution("other", "wf-2", models.TriggerKindManual, nil)))

	executions, err := repo.GetByWorkflow(ctx, "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, "c", executions[0].ID)
	assert.Equal(t, "b", executions[1].ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestPersistence_HealthCheck(t *testing.T) {
	t.Parallel()

	assert.NoError(t, file.NewPersistence(t.TempDir()).HealthCheck(context.Background()))
	assert.Error(t, file.NewPersistence("/does/not/exist/flowrun").HealthCheck(context.Background()))
}
