package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/google/uuid"
)

// Runner executes one workflow run to its terminal state.
type Runner interface {
	Run(ctx context.Context, workflow *models.Workflow, execution *models.Execution) (models.ExecutionStatus, error)
}

// Manager consumes the execution queue and runs each item on the pool.
type Manager struct {
	id          string
	queue       queue.Queue
	pool        *Pool
	runner      Runner
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewManager creates a worker manager. eventBus may be nil to skip lifecycle events.
func NewManager(
	id string,
	q queue.Queue,
	pool *Pool,
	runner Runner,
	persistence persistence.Persistence,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		id:          id,
		queue:       q,
		pool:        pool,
		runner:      runner,
		persistence: persistence,
		eventBus:    eventBus,
		logger:      logger.With("module", "worker_manager", "worker_id", id),
	}
}

// Start consumes until ctx is done, then waits for running executions.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting worker manager", "slots", m.pool.Size())

	err := m.queue.Consume(ctx, m.handle)

	m.logger.InfoContext(ctx, "Waiting for running executions")
	m.wg.Wait()

	return err
}

// handle takes a slot, moves the execution to RUNNING and hands it to a
// goroutine. The item is acknowledged once the execution is RUNNING.
func (m *Manager) handle(ctx context.Context, item queue.Item) error {
	logger := m.logger.With("workflow_id", item.WorkflowID, "execution_id", item.ExecutionID)

	slotCtx, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire worker slot: %w", err)
	}

	workflow, execution, err := m.claim(ctx, item)
	if err != nil {
		m.pool.Release(slotCtx)

		if errors.Is(err, errSkip) {
			logger.InfoContext(ctx, "Skipping item", "reason", err)

			return nil
		}

		return err
	}

	m.publish(ctx, workflow.ID, events.ExecutionStarted{
		BaseEvent:   m.baseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		TriggerKind: execution.TriggerKind,
	})

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.pool.Release(slotCtx)

		m.execute(context.WithoutCancel(slotCtx), logger, workflow, execution)
	}()

	return nil
}

var errSkip = errors.New("item skipped")

func (m *Manager) claim(ctx context.Context, item queue.Item) (*models.Workflow, *models.Execution, error) {
	execution, err := m.persistence.ExecutionRepository().GetByID(ctx, item.ExecutionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %v", errSkip, err)
		}

		return nil, nil, err
	}

	if execution.Status != models.ExecutionStatusPending {
		return nil, nil, fmt.Errorf("%w: execution is %s", errSkip, execution.Status)
	}

	workflow, err := m.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			m.fail(ctx, execution, err)

			return nil, nil, fmt.Errorf("%w: %v", errSkip, err)
		}

		return nil, nil, err
	}

	startedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &startedAt

	if err := m.persistence.ExecutionRepository().Save(ctx, execution); err != nil {
		if persistence.IsExecutionTerminal(err) {
			return nil, nil, fmt.Errorf("%w: %v", errSkip, err)
		}

		return nil, nil, err
	}

	return workflow, execution, nil
}

func (m *Manager) execute(ctx context.Context, logger *slog.Logger, workflow *models.Workflow, execution *models.Execution) {
	started := time.Now()

	status, err := m.runner.Run(ctx, workflow, execution)
	duration := time.Since(started)

	if status == models.ExecutionStatusSuccess {
		logger.InfoContext(ctx, "Execution completed", "duration", duration)
		m.publish(ctx, workflow.ID, events.ExecutionCompleted{
			BaseEvent:   m.baseEvent(events.ExecutionCompletedEvent, workflow.ID),
			ExecutionID: execution.ID,
			Duration:    duration,
		})

		return
	}

	message := execution.Error
	if message == "" && err != nil {
		message = err.Error()
	}

	logger.WarnContext(ctx, "Execution failed", "error", message, "duration", duration)
	m.publish(ctx, workflow.ID, events.ExecutionFailed{
		BaseEvent:   m.baseEvent(events.ExecutionFailedEvent, workflow.ID),
		ExecutionID: execution.ID,
		Error:       message,
		Duration:    duration,
	})
}

func (m *Manager) fail(ctx context.Context, execution *models.Execution, cause error) {
	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.Error = cause.Error()
	execution.CompletedAt = &completedAt

	if err := m.persistence.ExecutionRepository().Finish(ctx, execution); err != nil {
		m.logger.ErrorContext(ctx, "Failed to record execution failure", "execution_id", execution.ID, "error", err)
	}
}

func (m *Manager) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(uuid.New().String(), eventType, workflowID)
	base.WorkerID = m.id

	return base
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.eventBus == nil {
		return
	}

	if err := m.eventBus.Publish(ctx, key, event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
