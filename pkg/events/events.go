// Package events defines the execution lifecycle events published on the event bus.
package events

import (
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

// EventType names an event published on the bus.
type EventType string

// Topic carries every flowrun event.
const Topic = "flowrun.events"

// Message metadata keys.
const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	ExecutionStartedEvent      EventType = "execution.started"
	ExecutionCompletedEvent    EventType = "execution.completed"
	ExecutionFailedEvent       EventType = "execution.failed"
	NotificationRequestedEvent EventType = "notification.requested"
	ApplicationEvent           EventType = "application.event"
)

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps an event of the given type.
func NewBaseEvent(id string, eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// ExecutionStarted is published when a worker moves an execution to RUNNING.
type ExecutionStarted struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	TriggerKind models.TriggerKind `json:"trigger_kind,omitempty"`
}

func (ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionCompleted is published when an execution ends in SUCCESS.
type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Duration    time.Duration `json:"duration"`
}

func (ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

// ExecutionFailed is published when an execution ends in FAILED.
type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// NotificationRequested hands a formatted message to the delivery service.
type NotificationRequested struct {
	BaseEvent

	ExecutionID string   `json:"execution_id,omitempty"`
	Channel     string   `json:"channel"`
	To          []string `json:"to"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body"`
}

func (NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

// Application is a named event emitted by another service. Workflows with an
// event trigger on Name are started with Payload.
type Application struct {
	BaseEvent

	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (Application) GetType() EventType {
	return ApplicationEvent
}
