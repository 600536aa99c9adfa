// Package eventbus publishes and consumes flowrun events over watermill.
package eventbus

import (
	"context"

	"github.com/dukex/flowrun/pkg/events"
)

// Event is anything with a registered event type.
type Event interface {
	GetType() events.EventType
}

// EventHandler receives the decoded event. A returned error nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventPublisher interface {
	// Publish sends event partitioned by key, usually the workflow id.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	// Handle registers handler for eventType. It must be called before Subscribe.
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	GenerateID() string
	Close() error
}
