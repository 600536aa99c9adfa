// Package main provides the flowrun scheduler: the recurring reconciliation
// pass that enqueues due schedule workflows.
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
	"github.com/dukex/flowrun/pkg/scheduler"
	"github.com/dukex/flowrun/pkg/trigger"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowrun-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Start schedule workflows whose cron fire time has passed",
		Flags: []cli.Flag{
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
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Time between reconciliation passes",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("RECONCILE_INTERVAL"),
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

	logger := log.WithModule("flowrun-scheduler")
	logger.InfoContext(ctx, "Initializing flowrun scheduler")

	_, shutdown, err := otelhelper.NewTracer(ctx, "flowrun-scheduler")
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

	q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"), command.String("kafka-brokers"))
	if err != nil {
		return err
	}

	defer func() {
		if err := q.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	reconciler := scheduler.NewReconciler(
		persistence.WorkflowRepository(),
		trigger.NewService(persistence, q, logger),
		logger,
		scheduler.WithInterval(command.Duration("interval")),
	)

	return reconciler.Run(ctx)
}
