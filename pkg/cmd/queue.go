package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/queue/redisqueue"
	"github.com/dukex/flowrun/pkg/queue/watermillqueue"
)

// NewQueue builds the execution queue. redis:// and rediss:// URLs select the
// Redis list queue; "kafka" and "gochannel" select a watermill topic.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL, brokers string) (queue.Queue, error) {
	switch scheme(queueURL) {
	case "redis", "rediss":
		return redisqueue.New(ctx, logger, queueURL, redisqueue.DefaultName)
	}

	pub, sub, err := newPubSub(queueURL, brokers, serviceName+"-workers", logger, true)
	if err != nil {
		return nil, err
	}

	return watermillqueue.New(logger, pub, sub, watermillqueue.DefaultTopic), nil
}
