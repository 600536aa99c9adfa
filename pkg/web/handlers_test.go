package web_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrun/pkg/channels/gochannel"
	"github.com/dukex/flowrun/pkg/mocks"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/queue/watermillqueue"
	"github.com/dukex/flowrun/pkg/trigger"
	"github.com/dukex/flowrun/pkg/web"
	"github.com/dukex/flowrun/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())

	pub, sub, err := gochannel.CreatePersistentChannel(watermill.NopLogger{})
	require.NoError(t, err)

	q := watermillqueue.New(logger, pub, sub, "")
	t.Cleanup(func() { _ = q.Close() })

	handlers := web.NewAPIHandlers(
		workflow.NewRepository(persistence),
		trigger.NewService(persistence, q, logger),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Routes(app)

	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}

	return resp.StatusCode, out
}

func workflowRequest(spec models.TriggerSpec, active bool) web.WorkflowRequest {
	return web.WorkflowRequest{
		Name:    "Greeting",
		Trigger: spec,
		Active:  active,
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindTrigger},
			{ID: "greet", Kind: models.NodeKindAction, Config: map[string]any{"type": "script", "source": "1"}},
		},
		Edges: []*models.Edge{{ID: "e1", Source: "start", Target: "greet"}},
	}
}

func createWorkflow(t *testing.T, app *fiber.App, req web.WorkflowRequest) string {
	t.Helper()

	status, body := do(t, app, http.MethodPost, "/workflows/", req)
	require.Equal(t, http.StatusCreated, status, body)

	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	return id
}

func TestAPIHandlers_WorkflowCRUD(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	id := createWorkflow(t, app, workflowRequest(models.TriggerSpec{Kind: models.TriggerKindManual}, true))

	status, body := do(t, app, http.MethodGet, "/workflows/"+id, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Greeting", body["name"])

	update := workflowRequest(models.TriggerSpec{Kind: models.TriggerKindManual}, false)
	update.Name = "Renamed"

	status, body = do(t, app, http.MethodPut, "/workflows/"+id, update)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Renamed", body["name"])

	status, body = do(t, app, http.MethodGet, "/workflows/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total_count"])

	status, _ = do(t, app, http.MethodDelete, "/workflows/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = do(t, app, http.MethodGet, "/workflows/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", body["type"])
}

func TestAPIHandlers_CreateWorkflowRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(r *web.WorkflowRequest)
		wantType string
	}{
		{
			name:     "short name",
			mutate:   func(r *web.WorkflowRequest) { r.Name = "ab" },
			wantType: "validation_error",
		},
		{
			name: "no trigger node",
			mutate: func(r *web.WorkflowRequest) {
				r.Nodes = r.Nodes[1:]
				r.Edges = nil
			},
			wantType: "invalid_workflow",
		},
		{
			name: "dangling edge",
			mutate: func(r *web.WorkflowRequest) {
				r.Edges = append(r.Edges, &models.Edge{ID: "e2", Source: "greet", Target: "ghost"})
			},
			wantType: "invalid_workflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)
			req := workflowRequest(models.TriggerSpec{Kind: models.TriggerKindManual}, true)
			tt.mutate(&req)

			status, body := do(t, app, http.MethodPost, "/workflows/", req)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.wantType, body["type"])
		})
	}
}

func TestAPIHandlers_TriggerAndCancel(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	id := createWorkflow(t, app, workflowRequest(models.TriggerSpec{Kind: models.TriggerKindManual}, true))

	status, body := do(t, app, http.MethodPost, "/workflows/"+id+"/trigger", map[string]any{"user_id": 42})
	require.Equal(t, http.StatusAccepted, status, body)

	executionID, _ := body["execution_id"].(string)
	require.NotEmpty(t, executionID)

	status, body = do(t, app, http.MethodGet, "/executions/"+executionID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.ExecutionStatusPending), body["status"])
	assert.Equal(t, id, body["workflow_id"])
	assert.Equal(t, map[string]any{"user_id": float64(42)}, body["context"])

	status, body = do(t, app, http.MethodPost, "/executions/"+executionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.ExecutionStatusFailed), body["status"])
	assert.Equal(t, workflow.CancelledMessage, body["error"])

	status, body = do(t, app, http.MethodPost, "/executions/"+executionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "execution_finished", body["type"])

	status, body = do(t, app, http.MethodGet, "/workflows/"+id+"/executions?limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["executions"], 1)

	status, _ = do(t, app, http.MethodGet, "/workflows/"+id+"/executions?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution_not_found", body["type"])
}

func TestAPIHandlers_TriggerInactiveWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	id := createWorkflow(t, app, workflowRequest(models.TriggerSpec{Kind: models.TriggerKindManual}, false))

	status, body := do(t, app, http.MethodPost, "/workflows/"+id+"/trigger", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "workflow_inactive", body["type"])

	status, _ = do(t, app, http.MethodPost, "/workflows/ghost/trigger", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_Webhook(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	createWorkflow(t, app, workflowRequest(models.TriggerSpec{
		Kind: models.TriggerKindWebhook,
		Slug: "signup",
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []any{"email"},
		},
	}, true))

	status, body := do(t, app, http.MethodPost, "/webhooks/signup", map[string]any{"name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_payload", body["type"])

	status, body = do(t, app, http.MethodPost, "/webhooks/signup", map[string]any{"email": "ada@example.com"})
	assert.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, body["execution_id"])

	status, _ = do(t, app, http.MethodPost, "/webhooks/unknown", map[string]any{})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPIHandlers_PersistenceFailures(t *testing.T) {
	t.Parallel()

	p := mocks.NewMockPersistence()
	p.On("HealthCheck", mock.Anything).Return(errors.New("disk unplugged"))
	p.Workflows.On("GetAll", mock.Anything).Return(nil, errors.New("disk unplugged"))

	handlers := web.NewAPIHandlers(workflow.NewRepository(p), nil, validator.New(validator.WithRequiredStructEnabled()))
	app := fiber.New()
	handlers.Routes(app)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "unhealthy", body["status"])

	status, body = do(t, app, http.MethodGet, "/workflows/", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", body["type"])

	p.AssertExpectations(t)
	p.Workflows.AssertExpectations(t)
}
