// Package scheduler runs the periodic reconciliation pass that starts due schedule workflows.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

// DefaultInterval is the time between reconciliation passes.
const DefaultInterval = 60 * time.Second

// ReconciliationError reports a workflow the pass had to skip.
type ReconciliationError struct {
	WorkflowID string
	Err        error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile workflow %s: %v", e.WorkflowID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// Triggerer starts one scheduled execution.
type Triggerer interface {
	TriggerScheduled(ctx context.Context, workflow *models.Workflow, at time.Time) (string, error)
}

// DueQuery lists the workflows the pass considers.
type DueQuery func(ctx context.Context) ([]*models.Workflow, error)

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithInterval(interval time.Duration) Option {
	return func(r *Reconciler) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithDueQuery(query DueQuery) Option {
	return func(r *Reconciler) { r.due = query }
}

type Reconciler struct {
	workflows persistence.WorkflowRepository
	triggerer Triggerer
	due       DueQuery
	now       func() time.Time
	interval  time.Duration
	logger    *slog.Logger
}

// NewReconciler creates a reconciler reading active schedule workflows from workflows.
func NewReconciler(workflows persistence.WorkflowRepository, triggerer Triggerer, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		workflows: workflows,
		triggerer: triggerer,
		due:       workflows.GetScheduled,
		now:       time.Now,
		interval:  DefaultInterval,
		logger:    logger.With("module", "scheduler"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run reconciles immediately and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting reconciler", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Reconcile(ctx); err != nil {
			r.logger.ErrorContext(ctx, "Reconciliation pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Reconciler stopped")

			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile runs one pass and returns how many executions it started. Per-workflow
// problems are logged as ReconciliationErrors and do not stop the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	workflows, err := r.due(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list scheduled workflows: %w", err)
	}

	now := r.now().UTC()
	started := 0

	for _, wf := range workflows {
		fired, err := r.reconcile(ctx, wf, now)
		if fired {
			started++
		}

		if err != nil {
			r.logger.WarnContext(ctx, "Skipping workflow", "workflow_id", wf.ID, "error", err)
		}
	}

	r.logger.DebugContext(ctx, "Reconciliation pass done", "workflows", len(workflows), "started", started)

	return started, nil
}

func (r *Reconciler) reconcile(ctx context.Context, wf *models.Workflow, now time.Time) (bool, error) {
	if !wf.Active || !wf.IsScheduled() {
		return false, nil
	}

	schedule, err := models.ParseSchedule(wf.Trigger.Cron)
	if err != nil {
		return false, &ReconciliationError{WorkflowID: wf.ID, Err: err}
	}

	due := schedule.Next(r.reference(wf, now))
	if due.IsZero() {
		return false, &ReconciliationError{WorkflowID: wf.ID, Err: models.ErrScheduleNeverFires}
	}

	if due.After(now) {
		return false, nil
	}

	for next := schedule.Next(due); !next.IsZero() && !next.After(now); next = schedule.Next(next) {
		due = next
	}

	executionID, err := r.triggerer.TriggerScheduled(ctx, wf, due)
	if err != nil {
		return false, &ReconciliationError{WorkflowID: wf.ID, Err: err}
	}

	if err := r.workflows.MarkRun(ctx, wf.ID, now); err != nil {
		return true, &ReconciliationError{WorkflowID: wf.ID, Err: err}
	}

	r.logger.InfoContext(ctx, "Scheduled workflow started", "workflow_id", wf.ID, "execution_id", executionID, "fire_time", due)

	return true, nil
}

// reference is the instant after which fire times count as missed. Workflows
// that never ran count from their creation; missed fire times collapse into one
// run stamped with the latest of them.
func (r *Reconciler) reference(wf *models.Workflow, now time.Time) time.Time {
	if wf.LastRunAt != nil {
		return *wf.LastRunAt
	}

	if !wf.CreatedAt.IsZero() {
		return wf.CreatedAt
	}

	return now.Add(-r.interval)
}
