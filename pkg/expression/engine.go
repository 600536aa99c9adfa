// Package expression evaluates condition and script expressions against an execution context.
package expression

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Language names accepted in node configuration.
const (
	LanguageExpr = "expr"
	LanguageCEL  = "cel"
	LanguageJQ   = "jq"
)

var (
	// ErrEmptyExpression is returned when an expression has no source text.
	ErrEmptyExpression = errors.New("empty expression")
	// ErrUnknownLanguage is returned when no engine is registered for a language.
	ErrUnknownLanguage = errors.New("unknown expression language")
)

// Engine compiles and evaluates expressions written in one language.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// EvaluationError wraps a compile or runtime failure of an expression.
type EvaluationError struct {
	Language   string
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s expression %q: %v", e.Language, e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Engines holds the available engines by language name.
type Engines struct {
	engines  map[string]Engine
	fallback string
}

// NewEngines registers the given engines. The first one is used when no language is requested.
func NewEngines(engines ...Engine) *Engines {
	e := &Engines{engines: make(map[string]Engine, len(engines))}

	for _, engine := range engines {
		if e.fallback == "" {
			e.fallback = engine.Name()
		}

		e.engines[engine.Name()] = engine
	}

	return e
}

// NewDefaultEngines returns expr (default), cel and jq engines.
func NewDefaultEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}

	return NewEngines(NewExprEngine(), celEngine, NewGoJQEngine()), nil
}

// Get returns the engine for language; an empty language selects the default engine.
func (e *Engines) Get(language string) (Engine, error) {
	if language == "" {
		language = e.fallback
	}

	engine, ok := e.engines[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}

	return engine, nil
}

// Evaluate runs expression with the engine registered for language.
func (e *Engines) Evaluate(ctx context.Context, language, expression string, data map[string]any) (any, error) {
	engine, err := e.Get(language)
	if err != nil {
		return nil, err
	}

	return engine.Evaluate(ctx, expression, data)
}

// Truthy reports whether a value counts as true for branching.
// nil, false, zero numbers, empty strings and empty collections are false.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
