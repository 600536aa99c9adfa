package script_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/actions/script"
	"github.com/dukex/flowrun/pkg/expression"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) *script.Handler {
	t.Helper()

	engines, err := expression.NewDefaultEngines()
	require.NoError(t, err)

	sandboxes, err := sandbox.NewEngines(engines, slog.Default(), expression.LanguageExpr, expression.LanguageJQ)
	require.NoError(t, err)

	return script.NewHandler(sandboxes, time.Second, slog.Default())
}

func TestHandler_Execute(t *testing.T) {
	handler := newHandler(t)
	execCtx := models.NewExecutionContext(map[string]any{"items": []any{1, 2, 3}})

	result, err := handler.Execute(context.Background(), script.Config{Source: "sum(ctx.items)"}, execCtx)

	require.NoError(t, err)
	assert.Equal(t, 6, result["value"])
}

func TestHandler_Merge(t *testing.T) {
	handler := newHandler(t)
	execCtx := models.NewExecutionContext(map[string]any{"price": 10})

	_, err := handler.Execute(context.Background(), script.Config{
		Source: `{"total": ctx.price * 2, "currency": "EUR"}`,
		Merge:  true,
	}, execCtx)
	require.NoError(t, err)

	total, ok := execCtx.Get("total")
	require.True(t, ok)
	assert.Equal(t, 20, total)

	currency, _ := execCtx.Get("currency")
	assert.Equal(t, "EUR", currency)
}

func TestHandler_JQ(t *testing.T) {
	handler := newHandler(t)
	execCtx := models.NewExecutionContext(map[string]any{"users": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}})

	result, err := handler.Execute(context.Background(), script.Config{
		Source:   "[.ctx.users[].name]",
		Language: "jq",
	}, execCtx)

	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result["value"])
}

func TestHandler_Timeout(t *testing.T) {
	handler := newHandler(t)

	_, err := handler.Execute(context.Background(), script.Config{
		Source:   "reduce range(0; 100000000000) as $i (0; . + 1)",
		Language: "jq",
		Timeout:  50,
	}, models.NewExecutionContext(nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, sandbox.ErrTimeout)
}

func TestHandler_SnippetCannotMutateContext(t *testing.T) {
	handler := newHandler(t)
	execCtx := models.NewExecutionContext(map[string]any{"n": 1})

	_, err := handler.Execute(context.Background(), script.Config{Source: "ctx.n + 1"}, execCtx)
	require.NoError(t, err)

	n, _ := execCtx.Get("n")
	assert.Equal(t, 1, n)
}
