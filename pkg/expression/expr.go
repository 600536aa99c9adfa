package expression

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang expressions. Compiled programs are cached and
// shared across goroutines; every evaluation gets its own environment.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program

	maxNodes     uint
	memoryBudget uint
}

// NewExprEngine creates an expr-lang engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

// Limited returns a separate engine whose programs may have at most maxNodes
// AST nodes and may allocate at most memoryBudget units while running. Zero
// keeps the expr-lang default for either limit.
func (e *ExprEngine) Limited(maxNodes, memoryBudget uint) *ExprEngine {
	return &ExprEngine{
		cache:        make(map[string]*vm.Program),
		maxNodes:     maxNodes,
		memoryBudget: memoryBudget,
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return LanguageExpr
}

// Evaluate exposes every key of data as a top-level variable. Unknown
// variables evaluate to nil.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	program, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	machine := vm.VM{MemoryBudget: e.memoryBudget}

	out, err := machine.Run(program, env)
	if err != nil {
		return nil, &EvaluationError{Language: LanguageExpr, Expression: expression, Err: err}
	}

	return out, nil
}

func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[expression]; ok {
		return program, nil
	}

	options := []expr.Option{expr.AllowUndefinedVariables()}
	if e.maxNodes > 0 {
		options = append(options, expr.MaxNodes(e.maxNodes))
	}

	program, err := expr.Compile(expression, options...)
	if err != nil {
		return nil, &EvaluationError{Language: LanguageExpr, Expression: expression, Err: err}
	}

	e.cache[expression] = program

	return program, nil
}

var _ Engine = (*ExprEngine)(nil)
