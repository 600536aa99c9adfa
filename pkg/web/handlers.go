// Package web provides the HTTP API: workflow management, triggers, webhooks and execution status.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowrun/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultHistoryLimit = 50

// Triggers starts executions on behalf of API and webhook callers.
type Triggers interface {
	TriggerNow(ctx context.Context, workflowID string, payload map[string]any) (string, error)
	TriggerWebhook(ctx context.Context, slug string, payload map[string]any) (string, error)
}

type APIHandlers struct {
	repository *workflow.Repository
	triggers   Triggers
	validator  *validator.Validate
}

func NewAPIHandlers(repository *workflow.Repository, triggers Triggers, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		repository: repository,
		triggers:   triggers,
		validator:  validator,
	}
}

// Routes registers every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/trigger", h.TriggerWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Post("/webhooks/:slug", h.Webhook)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.repository.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.repository.FetchAll(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.repository.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.repository.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.repository.Update(c.Context(), c.Params("id"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.repository.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	payload, err := bindPayload(c)
	if err != nil {
		return badRequest(c, "Invalid JSON payload")
	}

	id, err := h.triggers.TriggerNow(c.Context(), c.Params("id"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionID: id})
}

func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	payload, err := bindPayload(c)
	if err != nil {
		return badRequest(c, "Invalid JSON payload")
	}

	id, err := h.triggers.TriggerWebhook(c.Context(), c.Params("slug"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionID: id})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.repository.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewExecutionResponse(execution))
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.repository.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewExecutionResponse(execution))
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit := defaultHistoryLimit

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}

		limit = parsed
	}

	executions, err := h.repository.Executions(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	out := make([]ExecutionResponse, 0, len(executions))
	for _, execution := range executions {
		out = append(out, NewExecutionResponse(execution))
	}

	return c.JSON(fiber.Map{"executions": out})
}

func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*WorkflowRequest, error) {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, err
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

// bindPayload decodes an optional JSON object body.
func bindPayload(c fiber.Ctx) (map[string]any, error) {
	payload := make(map[string]any)

	if len(c.Body()) == 0 {
		return payload, nil
	}

	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return nil, err
	}

	return payload, nil
}
