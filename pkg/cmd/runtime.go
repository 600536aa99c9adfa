package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowrun/pkg/actions/dataop"
	"github.com/dukex/flowrun/pkg/actions/dispatch"
	"github.com/dukex/flowrun/pkg/actions/httprequest"
	"github.com/dukex/flowrun/pkg/actions/notification"
	"github.com/dukex/flowrun/pkg/actions/script"
	"github.com/dukex/flowrun/pkg/actions/webhookrelay"
	"github.com/dukex/flowrun/pkg/callbacks"
	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/dukex/flowrun/pkg/datastore/memory"
	"github.com/dukex/flowrun/pkg/expression"
	"github.com/dukex/flowrun/pkg/sandbox"
)

// RuntimeConfig carries what the action handlers need from the binary.
type RuntimeConfig struct {
	Store         datastore.Store
	Callbacks     *callbacks.Registry
	Notifier      notification.Notifier
	ScriptTimeout time.Duration
	HTTPTimeout   time.Duration
}

// NewDispatcher wires every action handler and returns the dispatcher together
// with the expression engines shared by conditions and scripts.
func NewDispatcher(cfg RuntimeConfig, logger *slog.Logger) (*dispatch.Dispatcher, *expression.Engines, error) {
	engines, err := expression.NewDefaultEngines()
	if err != nil {
		return nil, nil, err
	}

	sandboxes, err := sandbox.NewEngines(engines, logger, expression.LanguageExpr, expression.LanguageJQ)
	if err != nil {
		return nil, nil, err
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notification.NewLogNotifier(logger)
	}

	registry := cfg.Callbacks
	if registry == nil {
		registry = callbacks.NewRegistry()
	}

	store := cfg.Store
	if store == nil {
		store = memory.New()
	}

	dispatcher := dispatch.New(dispatch.Handlers{
		HTTP:         httprequest.NewHandler(&http.Client{Timeout: cfg.HTTPTimeout}, logger),
		Data:         dataop.NewHandler(store, logger),
		Notification: notification.NewHandler(notifier, logger),
		Script:       script.NewHandler(sandboxes, sandbox.ClampTimeout(cfg.ScriptTimeout), logger),
		WebhookRelay: webhookrelay.NewHandler(registry, logger),
	}, logger)

	return dispatcher, engines, nil
}
