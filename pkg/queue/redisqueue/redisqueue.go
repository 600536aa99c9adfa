// Package redisqueue implements the execution queue on Redis lists.
//
// Items are pushed to <name>, atomically moved to <name>:processing while a
// handler works on them, and removed on acknowledgement. Malformed payloads are
// moved to <name>:dead.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/queue"
	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultName  = "flowrun:executions"
	blockTimeout = time.Second
	retryBackoff = time.Second
)

type Queue struct {
	client     redis.UniversalClient
	name       string
	processing string
	dead       string
	logger     *slog.Logger
}

// New connects to the Redis server at url (redis://[:password@]host:port/db).
func New(ctx context.Context, logger *slog.Logger, url, name string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewWithClient(client, logger, name), nil
}

func NewWithClient(client redis.UniversalClient, logger *slog.Logger, name string) *Queue {
	if name == "" {
		name = DefaultName
	}

	return &Queue{
		client:     client,
		name:       name,
		processing: name + ":processing",
		dead:       name + ":dead",
		logger:     logger.With("module", "redis_queue", "queue", name),
	}
}

func (q *Queue) Enqueue(ctx context.Context, item queue.Item) error {
	payload, err := queue.Encode(item)
	if err != nil {
		return &queue.QueueError{Op: "enqueue", Err: err}
	}

	if err := q.client.RPush(ctx, q.name, payload).Err(); err != nil {
		return &queue.QueueError{Op: "enqueue", Err: err}
	}

	return nil
}

// Consume first returns items left in the processing list by a previous
// consumer to the queue, then delivers items until ctx is done.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	if err := q.Recover(ctx); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		if ctx.Err() != nil {
			q.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return nil
		}

		if err := q.processMessage(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			q.logger.ErrorContext(ctx, "Error processing message", "error", err)
			queue.Wait(ctx, retryBackoff)
		}
	}
}

func (q *Queue) processMessage(ctx context.Context, handler queue.Handler) error {
	payload, err := q.client.BLMove(ctx, q.name, q.processing, "LEFT", "RIGHT", blockTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	item, err := queue.Decode([]byte(payload))
	if err != nil {
		q.logger.ErrorContext(ctx, "Dead-lettering malformed item", "error", err)

		return q.move(ctx, payload, q.dead)
	}

	if err := handler(ctx, item); err != nil {
		q.logger.WarnContext(ctx, "Handler rejected item, requeueing",
			"workflow_id", item.WorkflowID, "execution_id", item.ExecutionID, "error", err)

		if moveErr := q.move(context.WithoutCancel(ctx), payload, q.name); moveErr != nil {
			return moveErr
		}

		queue.Wait(ctx, retryBackoff)

		return nil
	}

	return q.client.LRem(context.WithoutCancel(ctx), q.processing, 1, payload).Err()
}

// move takes payload out of the processing list and appends it to target.
func (q *Queue) move(ctx context.Context, payload, target string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, payload)
		pipe.RPush(ctx, target, payload)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move item to %s: %w", target, err)
	}

	return nil
}

// Recover moves every item of the processing list back to the head of the queue.
func (q *Queue) Recover(ctx context.Context) error {
	recovered := 0

	for {
		err := q.client.LMove(ctx, q.processing, q.name, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}

		if err != nil {
			return &queue.QueueError{Op: "recover", Err: err}
		}

		recovered++
	}

	if recovered > 0 {
		q.logger.InfoContext(ctx, "Recovered unacknowledged items", "count", recovered)
	}

	return nil
}

// DeadLetters returns the payloads in the dead-letter list.
func (q *Queue) DeadLetters(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.dead, 0, -1).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
