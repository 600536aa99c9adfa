// Package sandbox runs short user-supplied snippets in isolation under a hard wall-clock timeout.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/expression"
	"github.com/dukex/flowrun/pkg/models"
)

const (
	// DefaultTimeout applies when the caller passes no timeout.
	DefaultTimeout = 2 * time.Second
	// MaxTimeout caps any requested timeout.
	MaxTimeout = 5 * time.Second
	// MaxNodes bounds the size of an expr snippet.
	MaxNodes = 1000
	// MemoryBudget bounds what an expr snippet may allocate in one run.
	MemoryBudget = 100_000
)

// ErrTimeout is returned when a snippet does not finish within its timeout.
var ErrTimeout = errors.New("script timed out")

// Evaluator is the capability to run a snippet with the given bindings.
type Evaluator interface {
	Evaluate(ctx context.Context, snippet string, bindings map[string]any, timeout time.Duration) (any, error)
}

// Sandbox evaluates snippets with an expression engine. Each call gets a fresh
// deep copy of its bindings; no state survives between calls.
type Sandbox struct {
	engine expression.Engine
	logger *slog.Logger
}

// New creates a sandbox backed by engine.
func New(engine expression.Engine, logger *slog.Logger) *Sandbox {
	return &Sandbox{
		engine: engine,
		logger: logger.With("module", "sandbox", "language", engine.Name()),
	}
}

type outcome struct {
	value any
	err   error
}

// Evaluate runs snippet and returns its value. The timeout is clamped to
// MaxTimeout; zero selects DefaultTimeout.
func (s *Sandbox) Evaluate(ctx context.Context, snippet string, bindings map[string]any, timeout time.Duration) (any, error) {
	timeout = ClampTimeout(timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env, _ := models.DeepCopy(bindings).(map[string]any)
	if env == nil {
		env = map[string]any{}
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("script panicked: %v", r)}
			}
		}()

		value, err := s.engine.Evaluate(runCtx, snippet, env)
		done <- outcome{value: value, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		return result.value, result.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			s.logger.WarnContext(ctx, "script exceeded timeout", "timeout", timeout)

			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		return nil, runCtx.Err()
	}
}

// ClampTimeout applies the default and maximum timeout.
func ClampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}

	if timeout > MaxTimeout {
		return MaxTimeout
	}

	return timeout
}

// Engines selects a sandbox per language.
type Engines struct {
	sandboxes map[string]*Sandbox
	fallback  string
}

// NewEngines builds one sandbox for each of the given languages.
func NewEngines(engines *expression.Engines, logger *slog.Logger, languages ...string) (*Engines, error) {
	e := &Engines{sandboxes: make(map[string]*Sandbox, len(languages))}

	for _, language := range languages {
		engine, err := engines.Get(language)
		if err != nil {
			return nil, err
		}

		if bounded, ok := engine.(*expression.ExprEngine); ok {
			engine = bounded.Limited(MaxNodes, MemoryBudget)
		}

		if e.fallback == "" {
			e.fallback = engine.Name()
		}

		e.sandboxes[engine.Name()] = New(engine, logger)
	}

	return e, nil
}

// For returns the sandbox for language, or the default one when language is empty.
func (e *Engines) For(language string) (Evaluator, error) {
	if language == "" {
		language = e.fallback
	}

	sb, ok := e.sandboxes[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", expression.ErrUnknownLanguage, language)
	}

	return sb, nil
}
