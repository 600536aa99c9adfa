// Package main provides the flowrun worker: a fixed pool that consumes the
// execution queue and runs workflows to completion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/sandbox"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const defaultWorkers = 4

func main() {
	command := &cli.Command{
		Name:                  "flowrun-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Name:    "records-database-url",
				Usage:   "Record store for data operations (postgres://..., empty for memory)",
				Sources: cli.EnvVars("RECORDS_DATABASE_URL"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Number of concurrently active executions",
				Value:   defaultWorkers,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "script-timeout",
				Usage:   "Default script timeout (capped at 5s)",
				Value:   sandbox.DefaultTimeout,
				Sources: cli.EnvVars("SCRIPT_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "http-timeout",
				Usage:   "Timeout of outbound HTTP actions",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("HTTP_TIMEOUT"),
			},
			&cli.StringSliceFlag{
				Name:    "callback",
				Usage:   "Webhook relay binding id=url, repeatable",
				Sources: cli.EnvVars("CALLBACKS"),
			},
			&cli.StringFlag{
				Name:    "notifications",
				Usage:   "Notification delivery (log, events)",
				Value:   "log",
				Sources: cli.EnvVars("NOTIFICATIONS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			return run(ctx, config{
				WorkerID:      workerID,
				DatabaseURL:   command.String("database-url"),
				QueueURL:      command.String("queue-url"),
				EventBus:      command.String("event-bus"),
				KafkaBrokers:  command.String("kafka-brokers"),
				RecordsURL:    command.String("records-database-url"),
				Workers:       command.Int("workers"),
				ScriptTimeout: command.Duration("script-timeout"),
				HTTPTimeout:   command.Duration("http-timeout"),
				Callbacks:     command.StringSlice("callback"),
				Notifications: command.String("notifications"),
			})
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
