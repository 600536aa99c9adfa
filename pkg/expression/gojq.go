package expression

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"
)

// GoJQEngine evaluates jq programs with the data as input document. Evaluation
// stops when ctx is cancelled.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a jq engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: make(map[string]*gojq.Code)}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return LanguageJQ
}

// Evaluate returns the single output, a slice for multiple outputs, or nil for none.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalize(data))

	var results []any

	for {
		value, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := value.(error); isErr {
			return nil, &EvaluationError{Language: LanguageJQ, Expression: expression, Err: err}
		}

		results = append(results, value)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *GoJQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return code, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &EvaluationError{Language: LanguageJQ, Expression: expression, Err: err}
	}

	code, err = gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, &EvaluationError{Language: LanguageJQ, Expression: expression, Err: err}
	}

	e.cache[expression] = code

	return code, nil
}

// normalize converts Go integer types to float64 and typed maps to map[string]any,
// the shapes gojq accepts.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}

		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = item
		}

		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}

		return out
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
