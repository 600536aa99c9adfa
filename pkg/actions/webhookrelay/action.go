// Package webhookrelay provides the webhook relay action: invoke a registered callback with the execution context.
package webhookrelay

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/callbacks"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

const defaultTimeoutSeconds = 30

// Config is the configuration of a webhook relay action node.
type Config struct {
	WebhookID string `json:"webhook_id"`
	Timeout   int    `json:"timeout,omitempty"`
}

// ActionType implements actions.Config.
func (Config) ActionType() actions.Type {
	return actions.TypeWebhookRelay
}

// Schema returns the JSON schema of the node configuration.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":       map[string]any{"const": string(actions.TypeWebhookRelay)},
			"webhook_id": map[string]any{"type": "string", "minLength": 1},
			"timeout":    map[string]any{"type": "integer", "minimum": 1, "maximum": 300},
		},
		"required": []string{"webhook_id"},
	}
}

// Handler relays the context to registered callbacks.
type Handler struct {
	registry *callbacks.Registry
	logger   *slog.Logger
}

// NewHandler creates a handler bound to registry.
func NewHandler(registry *callbacks.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger.With("module", "webhook_relay_action"),
	}
}

// Execute invokes the callback with a snapshot of the context and returns
// {webhook_id, response}.
func (h *Handler) Execute(ctx context.Context, cfg Config, execCtx *models.ExecutionContext) (map[string]any, error) {
	data := execCtx.Snapshot()
	webhookID := template.ResolveString(cfg.WebhookID, data)

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.logger.DebugContext(ctx, "relaying to callback", "webhook_id", webhookID)

	response, err := h.registry.Invoke(ctx, webhookID, data)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"webhook_id": webhookID,
		"response":   response,
	}, nil
}
