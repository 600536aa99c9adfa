package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/trigger"
	"github.com/dukex/flowrun/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "flowrun-api",
		Usage:                 "Manage workflows and trigger executions over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Execution queue (redis://..., kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "workflows",
				Usage:   "YAML or JSON workflow definitions (file or directory) imported at startup",
				Sources: cli.EnvVars("WORKFLOWS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing flowrun API")

	_, shutdown, err := otelhelper.NewTracer(ctx, "flowrun-api")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	brokers := command.String("kafka-brokers")

	q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"), brokers)
	if err != nil {
		return err
	}

	defer func() {
		if err := q.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), brokers, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	if path := command.String("workflows"); path != "" {
		imported, err := importWorkflows(ctx, logger, workflow.NewRepository(persistence), path)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Workflow definitions imported", "count", imported)
	}

	triggers := trigger.NewService(persistence, q, logger)

	if err := triggers.SubscribeApplicationEvents(eventBus); err != nil {
		return err
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	app := NewAPI(logger, persistence, triggers).App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown API", "error", err)
		}
	}()

	return app.Listen(fmt.Sprintf(":%d", command.Int("port")))
}
