// Package script provides the script action: evaluate a short snippet in the sandbox.
package script

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/sandbox"
)

// ContextBinding is the variable name under which the execution context is exposed to snippets.
const ContextBinding = "ctx"

// Config is the configuration of a script action node.
type Config struct {
	Source   string `json:"source"`
	Language string `json:"language,omitempty"`
	// Timeout in milliseconds; clamped by the sandbox.
	Timeout int  `json:"timeout,omitempty"`
	Merge   bool `json:"merge,omitempty"`
}

// ActionType implements actions.Config.
func (Config) ActionType() actions.Type {
	return actions.TypeScript
}

// Schema returns the JSON schema of the node configuration.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":     map[string]any{"const": string(actions.TypeScript)},
			"source":   map[string]any{"type": "string", "minLength": 1},
			"language": map[string]any{"type": "string", "enum": []string{"expr", "jq"}},
			"timeout":  map[string]any{"type": "integer", "minimum": 1, "description": "Timeout in milliseconds"},
			"merge":    map[string]any{"type": "boolean", "description": "Write the keys of a map result back into the context"},
		},
		"required": []string{"source"},
	}
}

// Sandboxes selects an evaluator per language.
type Sandboxes interface {
	For(language string) (sandbox.Evaluator, error)
}

// Handler evaluates snippets.
type Handler struct {
	sandboxes      Sandboxes
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewHandler creates a handler. defaultTimeout applies to nodes without a timeout.
func NewHandler(sandboxes Sandboxes, defaultTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		sandboxes:      sandboxes,
		defaultTimeout: defaultTimeout,
		logger:         logger.With("module", "script_action"),
	}
}

// Execute evaluates the snippet with a copy of the context bound as ctx and
// returns {value}. With merge set, a map value is written into the context.
func (h *Handler) Execute(ctx context.Context, cfg Config, execCtx *models.ExecutionContext) (map[string]any, error) {
	evaluator, err := h.sandboxes.For(cfg.Language)
	if err != nil {
		return nil, err
	}

	timeout := h.defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}

	bindings := map[string]any{ContextBinding: execCtx.Snapshot()}

	value, err := evaluator.Evaluate(ctx, cfg.Source, bindings, timeout)
	if err != nil {
		return nil, err
	}

	if values, ok := value.(map[string]any); ok && cfg.Merge {
		execCtx.Merge(values)
		h.logger.DebugContext(ctx, "merged script result into context", "keys", len(values))
	}

	return map[string]any{"value": value}, nil
}
