// Package watermillqueue implements the execution queue on a watermill publisher/subscriber pair
// (Kafka in production, GoChannel in tests and single-process setups).
package watermillqueue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowrun/pkg/queue"
)

const (
	DefaultTopic  = "flowrun.executions"
	deadSuffix    = ".dead"
	reasonKey     = "dead_letter_reason"
	nackBackoff   = 500 * time.Millisecond
	executionKey  = "execution_id"
	workflowIDKey = "workflow_id"
)

type Queue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     *slog.Logger
	closed     atomic.Bool
}

func New(logger *slog.Logger, pub message.Publisher, sub message.Subscriber, topic string) *Queue {
	if topic == "" {
		topic = DefaultTopic
	}

	return &Queue{
		publisher:  pub,
		subscriber: sub,
		topic:      topic,
		logger:     logger.With("module", "watermill_queue", "topic", topic),
	}
}

// DeadLetterTopic is where malformed items are published.
func (q *Queue) DeadLetterTopic() string {
	return q.topic + deadSuffix
}

func (q *Queue) Enqueue(_ context.Context, item queue.Item) error {
	if q.closed.Load() {
		return &queue.QueueError{Op: "enqueue", Err: queue.ErrClosed}
	}

	payload, err := queue.Encode(item)
	if err != nil {
		return &queue.QueueError{Op: "enqueue", Err: err}
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(executionKey, item.ExecutionID)
	msg.Metadata.Set(workflowIDKey, item.WorkflowID)

	if err := q.publisher.Publish(q.topic, msg); err != nil {
		return &queue.QueueError{Op: "enqueue", Err: err}
	}

	return nil
}

func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	if q.closed.Load() {
		return &queue.QueueError{Op: "subscribe", Err: queue.ErrClosed}
	}

	messages, err := q.subscriber.Subscribe(ctx, q.topic)
	if err != nil {
		return &queue.QueueError{Op: "subscribe", Err: err}
	}

	q.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-ctx.Done():
			q.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			q.process(ctx, msg, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, msg *message.Message, handler queue.Handler) {
	item, err := queue.Decode(msg.Payload)
	if err != nil {
		q.logger.ErrorContext(ctx, "Dead-lettering malformed item", "message_uuid", msg.UUID, "error", err)

		dead := message.NewMessage(watermill.NewUUID(), msg.Payload)
		dead.Metadata.Set(reasonKey, err.Error())

		if pubErr := q.publisher.Publish(q.DeadLetterTopic(), dead); pubErr != nil {
			q.logger.ErrorContext(ctx, "Failed to publish dead letter", "error", pubErr)
			msg.Nack()

			return
		}

		msg.Ack()

		return
	}

	if err := handler(ctx, item); err != nil {
		q.logger.WarnContext(ctx, "Handler rejected item",
			"workflow_id", item.WorkflowID, "execution_id", item.ExecutionID, "error", err)
		queue.Wait(ctx, nackBackoff)
		msg.Nack()

		return
	}

	msg.Ack()
}

// Close shuts the publisher and subscriber down. Later calls are no-ops.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := q.publisher.Close(); err != nil {
		return err
	}

	return q.subscriber.Close()
}
