// Package queue defines the durable execution queue shared by the trigger subsystem and the workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedItem is returned for payloads that do not decode into an Item.
	ErrMalformedItem = errors.New("malformed queue item")
	// ErrClosed is returned when using a queue after Close.
	ErrClosed = errors.New("queue closed")
)

// Item asks a worker to run one execution.
type Item struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Context     map[string]any `json:"context,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// Handler accepts one item. Returning nil acknowledges it; an error makes it
// available again.
type Handler func(ctx context.Context, item Item) error

type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	// Consume delivers items to handler until ctx is done.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// QueueError is a failure of the queue transport.
type QueueError struct {
	Op  string
	Err error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s failed: %v", e.Op, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// Encode serialises item for the transport.
func Encode(item Item) ([]byte, error) {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}

	return json.Marshal(item)
}

// Decode parses a transport payload, rejecting items without identifiers.
func Decode(payload []byte) (Item, error) {
	var item Item

	if err := json.Unmarshal(payload, &item); err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}

	if item.WorkflowID == "" || item.ExecutionID == "" {
		return Item{}, fmt.Errorf("%w: missing workflow_id or execution_id", ErrMalformedItem)
	}

	return item, nil
}

// Wait sleeps for d unless ctx ends first.
func Wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
