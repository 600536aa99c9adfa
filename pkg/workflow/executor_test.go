package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/actions/dispatch"
	"github.com/dukex/flowrun/pkg/actions/httprequest"
	"github.com/dukex/flowrun/pkg/actions/script"
	"github.com/dukex/flowrun/pkg/expression"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/sandbox"
	"github.com/dukex/flowrun/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingDispatcher records the node of every action it is asked to run.
type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	before func(nodeID string)
}

func (d *recordingDispatcher) Execute(ctx context.Context, _ actions.Config, _ *models.ExecutionContext) (any, error) {
	ref, _ := actions.ExecutionFrom(ctx)

	if d.before != nil {
		d.before(ref.NodeID)
	}

	d.mu.Lock()
	d.calls = append(d.calls, ref.NodeID)
	d.mu.Unlock()

	if err := d.fail[ref.NodeID]; err != nil {
		return nil, err
	}

	return map[string]any{"ok": true}, nil
}

func (d *recordingDispatcher) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.calls...)
}

func engines(t *testing.T) *expression.Engines {
	t.Helper()

	e, err := expression.NewDefaultEngines()
	require.NoError(t, err)

	return e
}

func trigger() *models.Node {
	return &models.Node{ID: "start", Kind: models.NodeKindTrigger}
}

func action(id string) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindAction, Config: map[string]any{"type": "script", "source": "1"}}
}

func edge(source, target, label string) *models.Edge {
	return &models.Edge{ID: source + "-" + target, Source: source, Target: target, Label: label}
}

func newWorkflow(nodes []*models.Node, edges []*models.Edge) *models.Workflow {
	return &models.Workflow{
		ID:      "wf-1",
		Name:    "test workflow",
		Trigger: models.TriggerSpec{Kind: models.TriggerKindManual},
		Nodes:   nodes,
		Edges:   edges,
		Active:  true,
	}
}

func TestExecutor_Traversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		nodes   []*models.Node
		edges   []*models.Edge
		payload map[string]any
		want    []string
	}{
		{
			name:  "cycle terminates",
			nodes: []*models.Node{trigger(), action("a"), action("b")},
			edges: []*models.Edge{edge("start", "a", ""), edge("a", "b", ""), edge("b", "a", "")},
			want:  []string{"a", "b"},
		},
		{
			name:  "diamond runs the shared node once per path",
			nodes: []*models.Node{trigger(), action("a"), action("b"), action("c")},
			edges: []*models.Edge{edge("start", "a", ""), edge("start", "b", ""), edge("a", "c", ""), edge("b", "c", "")},
			want:  []string{"a", "c", "b", "c"},
		},
		{
			name: "loop runs body per item then exit once",
			nodes: []*models.Node{
				trigger(),
				{ID: "each", Kind: models.NodeKindLoop, Config: map[string]any{"items": []any{1, 2, 3}}},
				action("body"),
				action("after"),
			},
			edges: []*models.Edge{edge("start", "each", ""), edge("each", "body", "body"), edge("each", "after", "exit")},
			want:  []string{"body", "body", "body", "after"},
		},
		{
			name: "condition with no matching edge ends the branch",
			nodes: []*models.Node{
				trigger(),
				{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{"expression": "false"}},
				action("yes"),
			},
			edges: []*models.Edge{edge("start", "check", ""), edge("check", "yes", "true")},
			want:  nil,
		},
		{
			name: "condition resolves placeholders before evaluating",
			nodes: []*models.Node{
				trigger(),
				{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{"expression": "{{count}} > 1"}},
				action("yes"),
				action("no"),
			},
			edges:   []*models.Edge{edge("start", "check", ""), edge("check", "yes", "true"), edge("check", "no", "false")},
			payload: map[string]any{"count": 2},
			want:    []string{"yes"},
		},
		{
			name: "cel condition",
			nodes: []*models.Node{
				trigger(),
				{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{"expression": "name == 'Ada'", "language": "cel"}},
				action("yes"),
				action("no"),
			},
			edges:   []*models.Edge{edge("start", "check", ""), edge("check", "yes", "true"), edge("check", "no", "false")},
			payload: map[string]any{"name": "Bob"},
			want:    []string{"no"},
		},
		{
			name:  "unreachable nodes never run",
			nodes: []*models.Node{trigger(), action("a"), action("orphan")},
			edges: []*models.Edge{edge("start", "a", "")},
			want:  []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dispatcher := &recordingDispatcher{}
			executor := workflow.NewExecutor(dispatcher, nil, engines(t), discardLogger())

			wf := newWorkflow(tt.nodes, tt.edges)
			require.NoError(t, workflow.Validate(wf))

			execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, tt.payload)

			status, err := executor.Run(context.Background(), wf, execution)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusSuccess, status)
			assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
			assert.NotNil(t, execution.CompletedAt)
			assert.Equal(t, tt.want, dispatcher.Calls())
		})
	}
}

func TestExecutor_ConditionPlaceholdersStayData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		language   string
		expression string
		value      string
		want       []string
	}{
		{name: "expr matching value", expression: `"{{name}}" == "Ada"`, value: "Ada", want: []string{"yes"}},
		{name: "expr quote breakout", expression: `"{{name}}" == "Ada"`, value: `x" != "y" || "a`, want: []string{"no"}},
		{name: "expr unbalanced quote", expression: `"{{name}}" == "Ada"`, value: `O"Brien`, want: []string{"no"}},
		{name: "expr bare placeholder", expression: `{{name}} == "Ada"`, value: `"Ada" || true`, want: []string{"no"}},
		{name: "cel matching value", language: "cel", expression: `'{{name}}' == 'Ada'`, value: "Ada", want: []string{"yes"}},
		{name: "cel quote breakout", language: "cel", expression: `'{{name}}' == 'Ada'`, value: `x' != 'y' || 'a`, want: []string{"no"}},
		{name: "cel unbalanced quote", language: "cel", expression: `'{{name}}' == 'Ada'`, value: `O'Brien`, want: []string{"no"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config := map[string]any{"expression": tt.expression}
			if tt.language != "" {
				config["language"] = tt.language
			}

			wf := newWorkflow(
				[]*models.Node{
					trigger(),
					{ID: "check", Kind: models.NodeKindCondition, Config: config},
					action("yes"),
					action("no"),
				},
				[]*models.Edge{edge("start", "check", ""), edge("check", "yes", "true"), edge("check", "no", "false")},
			)

			dispatcher := &recordingDispatcher{}
			executor := workflow.NewExecutor(dispatcher, nil, engines(t), discardLogger())
			execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, map[string]any{"name": tt.value})

			status, err := executor.Run(context.Background(), wf, execution)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusSuccess, status)
			assert.Equal(t, tt.want, dispatcher.Calls())
		})
	}
}

func TestExecutor_LoopBindsItem(t *testing.T) {
	t.Parallel()

	wf := newWorkflow(
		[]*models.Node{
			trigger(),
			{ID: "each", Kind: models.NodeKindLoop, Config: map[string]any{"items": "{{users}}", "as": "user"}},
			action("body"),
		},
		[]*models.Edge{edge("start", "each", ""), edge("each", "body", "body")},
	)

	dispatcher := &recordingDispatcher{}
	executor := workflow.NewExecutor(dispatcher, nil, engines(t), discardLogger())

	execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, map[string]any{
		"users": []any{"ada", "bob"},
	})

	_, err := executor.Run(context.Background(), wf, execution)
	require.NoError(t, err)

	assert.Equal(t, []string{"body", "body"}, dispatcher.Calls())
	assert.Equal(t, "bob", execution.Context["user"])
	assert.Equal(t, map[string]any{"index": 1, "item": "bob"}, execution.Context["loop"])

	nodes, ok := execution.Context[models.NodesKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"count": 2}, nodes["each"])
}

func TestExecutor_LoopItemsMustBeSequence(t *testing.T) {
	t.Parallel()

	wf := newWorkflow(
		[]*models.Node{trigger(), {ID: "each", Kind: models.NodeKindLoop, Config: map[string]any{"items": "{{user}}"}}},
		[]*models.Edge{edge("start", "each", "")},
	)

	executor := workflow.NewExecutor(&recordingDispatcher{}, nil, engines(t), discardLogger())
	execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, map[string]any{"user": "ada"})

	status, err := executor.Run(context.Background(), wf, execution)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrItemsNotSequence)
	assert.Equal(t, models.ExecutionStatusFailed, status)
}

func TestExecutor_ActionFailureStopsTraversal(t *testing.T) {
	t.Parallel()

	wf := newWorkflow(
		[]*models.Node{trigger(), action("a"), action("b")},
		[]*models.Edge{edge("start", "a", ""), edge("a", "b", "")},
	)

	boom := errors.New("boom")
	dispatcher := &recordingDispatcher{fail: map[string]error{"a": boom}}
	executor := workflow.NewExecutor(dispatcher, nil, engines(t), discardLogger())

	execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, nil)

	status, err := executor.Run(context.Background(), wf, execution)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, models.ExecutionStatusFailed, status)
	assert.Equal(t, "boom", execution.Error)
	assert.Equal(t, []string{"a"}, dispatcher.Calls())
}

func realDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()

	sandboxes, err := sandbox.NewEngines(engines(t), discardLogger(), expression.LanguageExpr, expression.LanguageJQ)
	require.NoError(t, err)

	return dispatch.New(dispatch.Handlers{
		HTTP:   httprequest.NewHandler(http.DefaultClient, discardLogger()),
		Script: script.NewHandler(sandboxes, sandbox.DefaultTimeout, discardLogger()),
	}, discardLogger())
}

func TestExecutor_HTTPThenCondition(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Ada"}`))
	}))
	t.Cleanup(server.Close)

	wf := newWorkflow(
		[]*models.Node{
			trigger(),
			{ID: "fetch", Kind: models.NodeKindAction, Config: map[string]any{
				"type": "http", "url": server.URL + "/users/{{id}}", "method": "GET",
			}},
			{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{"expression": "response.status == 200"}},
			{ID: "greet", Kind: models.NodeKindAction, Config: map[string]any{
				"type": "script", "source": `"hello " + ctx.response.json.name`,
			}},
			{ID: "alarm", Kind: models.NodeKindAction, Config: map[string]any{"type": "script", "source": `"alarm"`}},
		},
		[]*models.Edge{
			edge("start", "fetch", ""),
			edge("fetch", "check", ""),
			edge("check", "greet", "true"),
			edge("check", "alarm", "false"),
		},
	)
	require.NoError(t, workflow.Validate(wf))

	p := file.NewPersistence(t.TempDir())
	executions := p.ExecutionRepository()

	execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, map[string]any{"id": "42"})
	require.NoError(t, executions.Save(context.Background(), execution))

	executor := workflow.NewExecutor(realDispatcher(t), executions, engines(t), discardLogger())

	status, err := executor.Run(context.Background(), wf, execution)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, status)
	assert.Equal(t, "/users/42", <-paths)

	stored, err := executions.GetByID(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Equal(t, map[string]any{"value": "hello Ada"}, stored.Context[dispatch.ResultKey])

	nodes, ok := stored.Context[models.NodesKey].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, nodes, "fetch")
	assert.Equal(t, map[string]any{"result": true}, nodes["check"])
	assert.NotContains(t, nodes, "alarm")
}

func TestExecutor_ScriptTimeoutFails(t *testing.T) {
	t.Parallel()

	wf := newWorkflow(
		[]*models.Node{
			trigger(),
			{ID: "spin", Kind: models.NodeKindAction, Config: map[string]any{
				"type": "script", "language": "jq", "timeout": 50,
				"source": "reduce range(0; 100000000000) as $i (0; . + 1)",
			}},
		},
		[]*models.Edge{edge("start", "spin", "")},
	)

	executor := workflow.NewExecutor(realDispatcher(t), nil, engines(t), discardLogger())
	execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, nil)

	status, err := executor.Run(context.Background(), wf, execution)
	require.Error(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, status)
	assert.ErrorIs(t, err, sandbox.ErrTimeout)

	var actionErr *actions.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "spin", actionErr.NodeID)
	assert.Contains(t, execution.Error, "timed out")
}

func TestExecutor_CancelAtNodeBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())
	repo := workflow.NewRepository(p)

	wf := newWorkflow(
		[]*models.Node{trigger(), action("a"), action("b")},
		[]*models.Edge{edge("start", "a", ""), edge("a", "b", "")},
	)

	execution := models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, nil)
	execution.Status = models.ExecutionStatusRunning
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	dispatcher := &recordingDispatcher{before: func(nodeID string) {
		if nodeID == "a" {
			_, err := repo.Cancel(ctx, "exec-1")
			assert.NoError(t, err)
		}
	}}

	executor := workflow.NewExecutor(dispatcher, p.ExecutionRepository(), engines(t), discardLogger())

	status, err := executor.Run(ctx, wf, execution)
	require.ErrorIs(t, err, workflow.ErrCancelled)
	assert.Equal(t, models.ExecutionStatusFailed, status)
	assert.Equal(t, []string{"a"}, dispatcher.Calls())

	stored, err := p.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, workflow.CancelledMessage, stored.Error)
}

type countingSuspender struct {
	mu    sync.Mutex
	count int
}

func (s *countingSuspender) Suspend(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	return fn(ctx)
}

func TestExecutor_DelayAndNetworkActionsSuspend(t *testing.T) {
	t.Parallel()

	wf := newWorkflow(
		[]*models.Node{
			trigger(),
			{ID: "wait", Kind: models.NodeKindDelay, Config: map[string]any{"duration": "1ms"}},
			{ID: "call", Kind: models.NodeKindAction, Config: map[string]any{"type": "http", "url": "http://example.invalid"}},
			action("local"),
		},
		[]*models.Edge{edge("start", "wait", ""), edge("wait", "call", ""), edge("call", "local", "")},
	)

	suspender := &countingSuspender{}
	executor := workflow.NewExecutor(&recordingDispatcher{}, nil, engines(t), discardLogger(), workflow.WithSuspender(suspender))

	status, err := executor.Run(context.Background(), wf, models.NewExecution("exec-1", wf.ID, models.TriggerKindManual, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, status)
	assert.Equal(t, 2, suspender.count)
}
