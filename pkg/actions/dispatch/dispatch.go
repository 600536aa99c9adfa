// Package dispatch decodes action node configurations and routes them to their handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/actions/dataop"
	"github.com/dukex/flowrun/pkg/actions/httprequest"
	"github.com/dukex/flowrun/pkg/actions/notification"
	"github.com/dukex/flowrun/pkg/actions/script"
	"github.com/dukex/flowrun/pkg/actions/webhookrelay"
	"github.com/dukex/flowrun/pkg/models"
)

// Context keys written by handlers in addition to the node-scoped result.
const (
	ResponseKey = "response"
	DataKey     = "data"
	ResultKey   = "result"
	RelayKey    = "relay"
)

// Decode turns a raw node configuration into its typed action configuration.
func Decode(raw map[string]any) (actions.Config, error) {
	actionType, err := actions.TypeOf(raw)
	if err != nil {
		return nil, err
	}

	switch actionType {
	case actions.TypeHTTP:
		return decode[httprequest.Config](raw, httprequest.Schema())
	case actions.TypeDataOperation:
		return decode[dataop.Config](raw, dataop.Schema())
	case actions.TypeNotification:
		return decode[notification.Config](raw, notification.Schema())
	case actions.TypeScript:
		return decode[script.Config](raw, script.Schema())
	case actions.TypeWebhookRelay:
		return decode[webhookrelay.Config](raw, webhookrelay.Schema())
	default:
		return nil, fmt.Errorf("%w: %q", actions.ErrUnknownActionType, actionType)
	}
}

func decode[C actions.Config](raw map[string]any, schema map[string]any) (actions.Config, error) {
	var cfg C
	if err := actions.Decode(raw, schema, &cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Schemas returns the configuration schema of every action type.
func Schemas() map[actions.Type]map[string]any {
	return map[actions.Type]map[string]any{
		actions.TypeHTTP:          httprequest.Schema(),
		actions.TypeDataOperation: dataop.Schema(),
		actions.TypeNotification:  notification.Schema(),
		actions.TypeScript:        script.Schema(),
		actions.TypeWebhookRelay:  webhookrelay.Schema(),
	}
}

// ErrHandlerNotConfigured is returned when the dispatcher has no handler for an action type.
var ErrHandlerNotConfigured = errors.New("action handler not configured")

// Handlers groups the handler of each action type.
type Handlers struct {
	HTTP         *httprequest.Handler
	Data         *dataop.Handler
	Notification *notification.Handler
	Script       *script.Handler
	WebhookRelay *webhookrelay.Handler
}

// Dispatcher executes typed action configurations.
type Dispatcher struct {
	handlers Handlers
	logger   *slog.Logger
}

// New creates a dispatcher.
func New(handlers Handlers, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		logger:   logger.With("module", "dispatcher"),
	}
}

// Execute runs cfg against execCtx, writes the handler's reserved context key
// and returns the handler result. Any failure is an *actions.ActionError.
func (d *Dispatcher) Execute(ctx context.Context, cfg actions.Config, execCtx *models.ExecutionContext) (any, error) {
	var (
		result map[string]any
		key    string
		err    error
	)

	h := d.handlers

	switch c := cfg.(type) {
	case httprequest.Config:
		key = ResponseKey
		result, err = run(h.HTTP, func() (map[string]any, error) { return h.HTTP.Execute(ctx, c, execCtx) })
	case dataop.Config:
		key = DataKey
		result, err = run(h.Data, func() (map[string]any, error) { return h.Data.Execute(ctx, c, execCtx) })
	case notification.Config:
		result, err = run(h.Notification, func() (map[string]any, error) { return h.Notification.Execute(ctx, c, execCtx) })
	case script.Config:
		key = ResultKey
		result, err = run(h.Script, func() (map[string]any, error) { return h.Script.Execute(ctx, c, execCtx) })
	case webhookrelay.Config:
		key = RelayKey
		result, err = run(h.WebhookRelay, func() (map[string]any, error) { return h.WebhookRelay.Execute(ctx, c, execCtx) })
	default:
		err = fmt.Errorf("%w: %T", actions.ErrUnknownActionType, cfg)
	}

	actionType := actions.Type("unknown")
	if cfg != nil {
		actionType = cfg.ActionType()
	}

	ref, _ := actions.ExecutionFrom(ctx)

	if err != nil {
		// failed http responses are still recorded
		if key != "" && result != nil {
			execCtx.Set(key, result)
		}

		return result, &actions.ActionError{NodeID: ref.NodeID, Type: actionType, Err: err}
	}

	if key != "" {
		execCtx.Set(key, result)
	}

	d.logger.DebugContext(ctx, "action executed", "type", actionType, "node_id", ref.NodeID)

	return result, nil
}

func run[H any](handler *H, fn func() (map[string]any, error)) (map[string]any, error) {
	if handler == nil {
		return nil, ErrHandlerNotConfigured
	}

	return fn()
}
