// Package trigger turns manual calls, webhooks, application events and schedule
// ticks into PENDING executions on the queue.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/workflow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrWorkflowInactive = errors.New("workflow is not active")
	ErrTriggerMismatch  = errors.New("workflow is not started by this trigger")
)

// Service creates executions and hands them to the queue.
type Service struct {
	persistence persistence.Persistence
	queue       queue.Queue
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewService(persistence persistence.Persistence, q queue.Queue, logger *slog.Logger) *Service {
	return &Service{
		persistence: persistence,
		queue:       q,
		tracer:      otelhelper.Tracer("flowrun.trigger"),
		logger:      logger.With("module", "trigger"),
	}
}

// TriggerNow starts a manual execution of an active workflow seeded with payload.
func (s *Service) TriggerNow(ctx context.Context, workflowID string, payload map[string]any) (string, error) {
	wf, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	return s.fire(ctx, wf, models.TriggerKindManual, payload)
}

// TriggerWebhook starts the workflow registered on slug after checking payload
// against the trigger's JSON schema, when one is set.
func (s *Service) TriggerWebhook(ctx context.Context, slug string, payload map[string]any) (string, error) {
	wf, err := s.persistence.WorkflowRepository().GetBySlug(ctx, slug)
	if err != nil {
		return "", err
	}

	if err := ValidatePayload(wf.Trigger.JSONSchema, payload); err != nil {
		return "", err
	}

	return s.fire(ctx, wf, models.TriggerKindWebhook, payload)
}

// TriggerEvent starts every active workflow listening on event. Failures of
// individual workflows are joined; the executions that were created are returned.
func (s *Service) TriggerEvent(ctx context.Context, event string, payload map[string]any) ([]string, error) {
	workflows, err := s.persistence.WorkflowRepository().GetByEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(workflows))

	var errs []error

	for _, wf := range workflows {
		id, err := s.fire(ctx, wf, models.TriggerKindEvent, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.ID, err))

			continue
		}

		ids = append(ids, id)
	}

	return ids, errors.Join(errs...)
}

// TriggerScheduled starts a schedule workflow for the fire time at.
func (s *Service) TriggerScheduled(ctx context.Context, wf *models.Workflow, at time.Time) (string, error) {
	if wf.Trigger.Kind != models.TriggerKindSchedule {
		return "", fmt.Errorf("%w: %s has a %s trigger", ErrTriggerMismatch, wf.ID, wf.Trigger.Kind)
	}

	return s.fire(ctx, wf, models.TriggerKindSchedule, map[string]any{
		"scheduled_at": at.UTC().Format(time.RFC3339),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// SubscribeApplicationEvents starts event-triggered workflows for every
// application event received on the bus.
func (s *Service) SubscribeApplicationEvents(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.ApplicationEvent, func(ctx context.Context, event any) error {
		app, ok := event.(*events.Application)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		ids, err := s.TriggerEvent(ctx, app.Name, app.Payload)
		if err != nil {
			// redelivery would duplicate the executions already created
			s.logger.ErrorContext(ctx, "Event trigger failed", "event", app.Name, "error", err)
		}

		s.logger.InfoContext(ctx, "Event triggered workflows", "event", app.Name, "executions", len(ids))

		return nil
	})
}

func (s *Service) fire(ctx context.Context, wf *models.Workflow, kind models.TriggerKind, payload map[string]any) (id string, err error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.trigger",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID),
		attribute.String(otelhelper.TriggerKindKey, string(kind)),
	)
	defer func() { otelhelper.End(span, err) }()

	logger := s.logger.With("workflow_id", wf.ID, "trigger_kind", kind)

	if !wf.Active {
		return "", fmt.Errorf("%w: %s", ErrWorkflowInactive, wf.ID)
	}

	if err := workflow.Validate(wf); err != nil {
		return "", err
	}

	execution := models.NewExecution(uuid.New().String(), wf.ID, kind, payload)
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	executions := s.persistence.ExecutionRepository()
	if err := executions.Save(ctx, execution); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	item := queue.Item{WorkflowID: wf.ID, ExecutionID: execution.ID, Context: execution.Context}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		logger.ErrorContext(ctx, "Failed to enqueue execution", "execution_id", execution.ID, "error", err)

		completedAt := time.Now().UTC()
		execution.Status = models.ExecutionStatusFailed
		execution.Error = err.Error()
		execution.CompletedAt = &completedAt

		if finishErr := executions.Finish(context.WithoutCancel(ctx), execution); finishErr != nil {
			logger.ErrorContext(ctx, "Failed to mark unqueued execution failed", "execution_id", execution.ID, "error", finishErr)
		}

		return "", err
	}

	logger.InfoContext(ctx, "Execution enqueued", "execution_id", execution.ID)

	return execution.ID, nil
}
