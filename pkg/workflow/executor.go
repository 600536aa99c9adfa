// Package workflow validates workflow graphs and executes them.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/actions/dispatch"
	"github.com/dukex/flowrun/pkg/expression"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrCancelled is returned when the execution record was finished by someone else mid-run.
	ErrCancelled = errors.New("execution cancelled")

	ErrNodeNotFound    = errors.New("node not found")
	ErrUnknownNodeKind = errors.New("unknown node kind")
)

// CancelledMessage is the error recorded on executions cancelled through the API.
const CancelledMessage = "cancelled"

// Dispatcher executes one action configuration.
type Dispatcher interface {
	Execute(ctx context.Context, cfg actions.Config, execCtx *models.ExecutionContext) (any, error)
}

// Suspender runs fn without holding the caller's worker slot.
type Suspender interface {
	Suspend(ctx context.Context, fn func(ctx context.Context) error) error
}

type inlineSuspender struct{}

func (inlineSuspender) Suspend(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Executor walks a workflow graph depth-first from its trigger node.
type Executor struct {
	dispatcher Dispatcher
	executions persistence.ExecutionRepository
	conditions *expression.Engines
	suspender  Suspender
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Executor)

// WithSuspender parks the worker slot during delays and network-bound actions.
func WithSuspender(s Suspender) Option {
	return func(e *Executor) {
		e.suspender = s
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor. A nil executions repository disables
// cancellation checks and result recording.
func NewExecutor(
	dispatcher Dispatcher,
	executions persistence.ExecutionRepository,
	conditions *expression.Engines,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		dispatcher: dispatcher,
		executions: executions,
		conditions: conditions,
		suspender:  inlineSuspender{},
		tracer:     otelhelper.Tracer("flowrun/workflow"),
		logger:     logger.With("module", "workflow_executor"),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type run struct {
	workflow  *models.Workflow
	execution *models.Execution
	execCtx   *models.ExecutionContext
	logger    *slog.Logger
}

// Run executes the workflow for execution and writes its terminal state. The
// returned error is the cause of a FAILED status.
func (e *Executor) Run(ctx context.Context, workflow *models.Workflow, execution *models.Execution) (models.ExecutionStatus, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)

	r := &run{
		workflow:  workflow,
		execution: execution,
		execCtx:   models.NewExecutionContext(execution.Context),
		logger:    e.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID),
	}

	r.logger.InfoContext(ctx, "Starting execution")

	var runErr error

	trigger, ok := workflow.TriggerNode()
	if ok {
		runErr = e.visit(ctx, r, trigger.ID, map[string]bool{})
	} else {
		runErr = &ValidationError{WorkflowID: workflow.ID, Problems: []string{"no trigger node"}}
	}

	status, err := e.finish(ctx, r, runErr)
	otelhelper.End(span, err)

	return status, err
}

func (e *Executor) finish(ctx context.Context, r *run, runErr error) (models.ExecutionStatus, error) {
	// the run may have ended because ctx was cancelled; the record still has to be written
	ctx = context.WithoutCancel(ctx)

	execution := r.execution
	completedAt := e.now()
	execution.CompletedAt = &completedAt
	execution.Context = r.execCtx.Snapshot()

	if errors.Is(runErr, ErrCancelled) {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = CancelledMessage
		r.logger.InfoContext(ctx, "Execution cancelled")

		return execution.Status, runErr
	}

	if runErr != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = runErr.Error()
	} else {
		execution.Status = models.ExecutionStatusSuccess
		execution.Error = ""
	}

	if e.executions != nil {
		if err := e.executions.Finish(ctx, execution); err != nil {
			if persistence.IsExecutionTerminal(err) {
				r.logger.InfoContext(ctx, "Execution was finished concurrently, keeping stored result")

				execution.Status = models.ExecutionStatusFailed
				execution.Error = CancelledMessage

				return execution.Status, ErrCancelled
			}

			return execution.Status, fmt.Errorf("failed to record execution result: %w", err)
		}
	}

	if runErr != nil {
		r.logger.ErrorContext(ctx, "Execution failed", "error", runErr)
	} else {
		r.logger.InfoContext(ctx, "Execution succeeded", "context_version", r.execCtx.Version())
	}

	return execution.Status, runErr
}

// visit runs nodeID and then its successors. visited holds the nodes already on
// the current path; sibling branches receive their own copy.
func (e *Executor) visit(ctx context.Context, r *run, nodeID string, visited map[string]bool) error {
	if err := e.checkpoint(ctx, r); err != nil {
		return err
	}

	if visited[nodeID] {
		r.logger.DebugContext(ctx, "Node already on path, branch ends", "node_id", nodeID)

		return nil
	}

	visited[nodeID] = true

	node, ok := r.workflow.NodeByID(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	next, err := e.execute(ctx, r, node, visited)
	if err != nil {
		return err
	}

	return e.follow(ctx, r, next, visited)
}

func (e *Executor) follow(ctx context.Context, r *run, edges []*models.Edge, visited map[string]bool) error {
	for _, edge := range edges {
		if err := e.visit(ctx, r, edge.Target, maps.Clone(visited)); err != nil {
			return err
		}
	}

	return nil
}

// execute runs a single node and returns the edges to follow.
func (e *Executor) execute(ctx context.Context, r *run, node *models.Node, visited map[string]bool) ([]*models.Edge, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
	)

	logger := r.logger.With("node_id", node.ID, "node_kind", node.Kind)
	logger.DebugContext(ctx, "Executing node")

	var (
		next []*models.Edge
		err  error
	)

	switch node.Kind {
	case models.NodeKindTrigger:
		next = labeled(r.workflow, node.ID, "")
	case models.NodeKindAction:
		err = e.runAction(ctx, r, node)
		next = labeled(r.workflow, node.ID, "")
	case models.NodeKindCondition:
		next, err = e.runCondition(ctx, r, node)
	case models.NodeKindLoop:
		next, err = e.runLoop(ctx, r, node, visited)
	case models.NodeKindDelay:
		err = e.runDelay(ctx, r, node)
		next = labeled(r.workflow, node.ID, "")
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownNodeKind, node.Kind)
	}

	if err != nil && !errors.Is(err, ErrCancelled) {
		logger.ErrorContext(ctx, "Node failed", "error", err)
		otelhelper.End(span, err)

		return nil, err
	}

	otelhelper.End(span, nil)

	return next, err
}

func (e *Executor) runAction(ctx context.Context, r *run, node *models.Node) error {
	cfg, err := dispatch.Decode(node.Config)
	if err != nil {
		actionType, _ := actions.TypeOf(node.Config)

		return &actions.ActionError{NodeID: node.ID, Type: actionType, Err: err}
	}

	ctx = actions.WithExecution(ctx, actions.ExecutionRef{
		WorkflowID:  r.workflow.ID,
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
	})

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.ActionTypeKey, string(cfg.ActionType())))

	var result any

	call := func(ctx context.Context) error {
		var callErr error
		result, callErr = e.dispatcher.Execute(ctx, cfg, r.execCtx)

		return callErr
	}

	if cfg.ActionType().NetworkBound() {
		err = e.suspender.Suspend(ctx, call)
	} else {
		err = call(ctx)
	}

	if result != nil {
		r.execCtx.SetNodeResult(node.ID, result)
	}

	return err
}

func (e *Executor) runCondition(ctx context.Context, r *run, node *models.Node) ([]*models.Edge, error) {
	cfg, err := conditionConfigOf(node)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", node.ID, err)
	}

	source, bindings, err := template.BindExpression(cfg.Expression, r.execCtx.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", node.ID, err)
	}

	value, err := e.conditions.Evaluate(ctx, cfg.Language, source, bindings)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", node.ID, err)
	}

	passed := expression.Truthy(value)
	r.execCtx.SetNodeResult(node.ID, map[string]any{"result": passed})

	label := models.EdgeLabelFalse
	if passed {
		label = models.EdgeLabelTrue
	}

	next := labeled(r.workflow, node.ID, label)
	if len(next) == 0 {
		r.logger.DebugContext(ctx, "No edge for condition outcome, branch ends", "node_id", node.ID, "outcome", label)
	}

	return next, nil
}

func (e *Executor) runLoop(ctx context.Context, r *run, node *models.Node, visited map[string]bool) ([]*models.Edge, error) {
	cfg, err := loopConfigOf(node)
	if err != nil {
		return nil, fmt.Errorf("loop %q: %w", node.ID, err)
	}

	items, err := cfg.resolveItems(r.execCtx.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("loop %q: %w", node.ID, err)
	}

	body := labeled(r.workflow, node.ID, models.EdgeLabelBody)

	for index, item := range items {
		r.execCtx.Set(cfg.As, item)
		r.execCtx.Set(LoopKey, map[string]any{"index": index, "item": item})

		if err := e.follow(ctx, r, body, maps.Clone(visited)); err != nil {
			return nil, err
		}
	}

	r.execCtx.SetNodeResult(node.ID, map[string]any{"count": len(items)})

	return labeled(r.workflow, node.ID, models.EdgeLabelExit), nil
}

func (e *Executor) runDelay(ctx context.Context, r *run, node *models.Node) error {
	d, err := delayConfigOf(node, r.execCtx.Snapshot())
	if err != nil {
		return fmt.Errorf("delay %q: %w", node.ID, err)
	}

	err = e.suspender.Suspend(ctx, func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return fmt.Errorf("delay %q: %w", node.ID, err)
	}

	r.execCtx.SetNodeResult(node.ID, map[string]any{"delayed": d.String()})

	return nil
}

// checkpoint stops the traversal when ctx is done or the stored record was finished elsewhere.
func (e *Executor) checkpoint(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if e.executions == nil {
		return nil
	}

	stored, err := e.executions.GetByID(ctx, r.execution.ID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil
		}

		return fmt.Errorf("failed to check execution state: %w", err)
	}

	if stored.Status.IsTerminal() {
		return ErrCancelled
	}

	return nil
}

func labeled(workflow *models.Workflow, nodeID, label string) []*models.Edge {
	out := make([]*models.Edge, 0)

	for _, edge := range workflow.OutgoingEdges(nodeID) {
		if edge.Label == label {
			out = append(out, edge)
		}
	}

	return out
}
