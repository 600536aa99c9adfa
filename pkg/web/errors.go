package web

import (
	"errors"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/trigger"
	"github.com/dukex/flowrun/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps domain errors onto problem documents.
func handleServiceError(c fiber.Ctx, err error) error {
	var (
		validationErr *workflow.ValidationError
		queueErr      *queue.QueueError
	)

	switch {
	case errors.As(err, &validationErr):
		return problem(c, fiber.StatusBadRequest, "invalid_workflow", validationErr.Error())

	case errors.Is(err, trigger.ErrInvalidPayload):
		return problem(c, fiber.StatusBadRequest, "invalid_payload", err.Error())

	case errors.Is(err, persistence.ErrInvalidID):
		return problem(c, fiber.StatusBadRequest, "invalid_id", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")

	case persistence.IsExecutionTerminal(err):
		return problem(c, fiber.StatusConflict, "execution_finished", "execution already finished")

	case errors.Is(err, trigger.ErrWorkflowInactive):
		return problem(c, fiber.StatusConflict, "workflow_inactive", err.Error())

	case errors.As(err, &queueErr):
		return problem(c, fiber.StatusServiceUnavailable, "queue_unavailable", queueErr.Error())

	default:
		return internalError(c, err)
	}
}
