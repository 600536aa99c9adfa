package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowrun/pkg/channels/gochannel"
	"github.com/dukex/flowrun/pkg/channels/kafka"
	"github.com/dukex/flowrun/pkg/eventbus"
)

const serviceName = "flowrun"

// NewEventBus builds the lifecycle event bus: "kafka" or the in-process "gochannel".
func NewEventBus(provider, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	pub, sub, err := newPubSub(provider, brokers, serviceName+"-events", logger, false)
	if err != nil {
		return nil, err
	}

	return eventbus.NewWatermillEventBus(logger, pub, sub), nil
}

func newPubSub(provider, brokers, group string, logger *slog.Logger, persistent bool) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), group)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return pub, sub, nil
	case "gochannel", "":
		if persistent {
			return gochannel.CreatePersistentChannel(wmLogger)
		}

		return gochannel.CreateChannel(wmLogger)
	default:
		return nil, nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
