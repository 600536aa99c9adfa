package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowrun/pkg/actions/notification"
	"github.com/dukex/flowrun/pkg/callbacks"
	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/worker"
	"github.com/dukex/flowrun/pkg/workflow"
)

type config struct {
	WorkerID      string
	DatabaseURL   string
	QueueURL      string
	EventBus      string
	KafkaBrokers  string
	RecordsURL    string
	Workers       int
	ScriptTimeout time.Duration
	HTTPTimeout   time.Duration
	Callbacks     []string
	Notifications string
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithModule("flowrun-worker").With("worker_id", cfg.WorkerID)
	logger.InfoContext(ctx, "Initializing flowrun worker", "workers", cfg.Workers)

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "flowrun-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	store, err := cmd.NewDatastore(ctx, logger, cfg.RecordsURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close record store", "error", err)
		}
	}()

	q, err := cmd.NewQueue(ctx, logger, cfg.QueueURL, cfg.KafkaBrokers)
	if err != nil {
		return err
	}

	defer func() {
		if err := q.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(cfg.EventBus, cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	registry, err := callbackRegistry(cfg.Callbacks, cfg.HTTPTimeout)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(cfg.Notifications, eventBus, logger)
	if err != nil {
		return err
	}

	dispatcher, engines, err := cmd.NewDispatcher(cmd.RuntimeConfig{
		Store:         store,
		Callbacks:     registry,
		Notifier:      notifier,
		ScriptTimeout: cfg.ScriptTimeout,
		HTTPTimeout:   cfg.HTTPTimeout,
	}, logger)
	if err != nil {
		return err
	}

	pool := worker.NewPool(cfg.Workers)
	defer pool.Shutdown()

	executor := workflow.NewExecutor(dispatcher, persistence.ExecutionRepository(), engines, logger,
		workflow.WithSuspender(pool),
		workflow.WithTracer(tracer),
	)

	manager := worker.NewManager(cfg.WorkerID, q, pool, executor, persistence, eventBus, logger)

	return manager.Start(ctx)
}

// callbackRegistry binds each "id=url" value to an HTTP callback.
func callbackRegistry(bindings []string, timeout time.Duration) (*callbacks.Registry, error) {
	registry := callbacks.NewRegistry()
	client := &http.Client{Timeout: timeout}

	for _, binding := range bindings {
		id, url, err := callbacks.ParseBinding(binding)
		if err != nil {
			return nil, err
		}

		if err := registry.RegisterCallback(id, callbacks.HTTPCallback(client, url)); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func newNotifier(kind string, bus eventbus.EventBus, logger *slog.Logger) (notification.Notifier, error) {
	switch kind {
	case "log", "":
		return notification.NewLogNotifier(logger), nil
	case "events":
		return notification.NewEventNotifier(bus), nil
	default:
		return nil, fmt.Errorf("unsupported notification delivery %q", kind)
	}
}
