package expression

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELEngine evaluates Common Expression Language expressions. Each top-level
// key of the data is declared as a dynamically typed variable.
type CELEngine struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine.
func NewCELEngine() (*CELEngine, error) {
	// surface environment errors at construction time
	if _, err := cel.NewEnv(); err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{cache: make(map[string]cel.Program)}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return LanguageCEL
}

// Evaluate compiles the expression for the variables present in data and runs it.
func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	if data == nil {
		data = map[string]any{}
	}

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}

	slices.Sort(names)

	program, err := e.getOrCompile(expression, names)
	if err != nil {
		return nil, err
	}

	out, _, err := program.Eval(data)
	if err != nil {
		return nil, &EvaluationError{Language: LanguageCEL, Expression: expression, Err: err}
	}

	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string, names []string) (cel.Program, error) {
	key := expression + "\x00" + strings.Join(names, ",")

	e.mu.RLock()
	program, ok := e.cache[key]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[key]; ok {
		return program, nil
	}

	options := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		options = append(options, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(options...)
	if err != nil {
		return nil, &EvaluationError{Language: LanguageCEL, Expression: expression, Err: err}
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, &EvaluationError{Language: LanguageCEL, Expression: expression, Err: issues.Err()}
	}

	program, err = env.Program(ast)
	if err != nil {
		return nil, &EvaluationError{Language: LanguageCEL, Expression: expression, Err: err}
	}

	e.cache[key] = program

	return program, nil
}

var _ Engine = (*CELEngine)(nil)
