// Package notification provides the notification action: format a message and hand it to a delivery collaborator.
package notification

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

const defaultChannel = "email"

// Config is the configuration of a notification action node.
type Config struct {
	Channel string   `json:"channel,omitempty"`
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body"`
}

// ActionType implements actions.Config.
func (Config) ActionType() actions.Type {
	return actions.TypeNotification
}

// Schema returns the JSON schema of the node configuration.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":    map[string]any{"const": string(actions.TypeNotification)},
			"channel": map[string]any{"type": "string", "default": defaultChannel},
			"to": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]any{"type": "string"},
			},
			"subject": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
		"required": []string{"to", "body"},
	}
}

// Message is a formatted notification ready for delivery.
type Message struct {
	ExecutionID string
	WorkflowID  string
	Channel     string
	To          []string
	Subject     string
	Body        string
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, message Message) error
}

// Handler formats messages and hands them to a Notifier.
type Handler struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewHandler creates a handler delivering through notifier.
func NewHandler(notifier Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		notifier: notifier,
		logger:   logger.With("module", "notification_action"),
	}
}

// Execute resolves the message fields and hands the message off. Delivery
// failures are logged and reported in the result, never returned.
func (h *Handler) Execute(ctx context.Context, cfg Config, execCtx *models.ExecutionContext) (map[string]any, error) {
	data := execCtx.Snapshot()

	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}

	recipients := make([]string, 0, len(cfg.To))
	for _, to := range cfg.To {
		if resolved := template.ResolveString(to, data); resolved != "" {
			recipients = append(recipients, resolved)
		}
	}

	message := Message{
		Channel: channel,
		To:      recipients,
		Subject: template.ResolveString(cfg.Subject, data),
		Body:    template.ResolveString(cfg.Body, data),
	}
	if ref, ok := actions.ExecutionFrom(ctx); ok {
		message.ExecutionID = ref.ExecutionID
		message.WorkflowID = ref.WorkflowID
	}

	result := map[string]any{
		"channel":   channel,
		"to":        toAny(recipients),
		"subject":   message.Subject,
		"delivered": true,
	}

	if err := h.notifier.Notify(ctx, message); err != nil {
		h.logger.ErrorContext(ctx, "notification hand-off failed", "channel", channel, "error", err)

		result["delivered"] = false
		result["error"] = err.Error()

		return result, nil
	}

	h.logger.InfoContext(ctx, "notification handed off", "channel", channel, "recipients", len(recipients))

	return result, nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}

// LogNotifier writes messages to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "log_notifier")}
}

// Notify logs the message.
func (n *LogNotifier) Notify(ctx context.Context, message Message) error {
	n.logger.InfoContext(ctx, "notification",
		"channel", message.Channel,
		"to", message.To,
		"subject", message.Subject,
		"execution_id", message.ExecutionID,
	)

	return nil
}

// EventNotifier publishes a notification.requested event for an external delivery service.
type EventNotifier struct {
	bus eventbus.EventBus
}

// NewEventNotifier creates a notifier publishing on bus.
func NewEventNotifier(bus eventbus.EventBus) *EventNotifier {
	return &EventNotifier{bus: bus}
}

// Notify publishes the message keyed by execution.
func (n *EventNotifier) Notify(ctx context.Context, message Message) error {
	event := events.NotificationRequested{
		BaseEvent:   events.NewBaseEvent(n.bus.GenerateID(), events.NotificationRequestedEvent, message.WorkflowID),
		ExecutionID: message.ExecutionID,
		Channel:     message.Channel,
		To:          message.To,
		Subject:     message.Subject,
		Body:        message.Body,
	}

	return n.bus.Publish(ctx, message.ExecutionID, event)
}
