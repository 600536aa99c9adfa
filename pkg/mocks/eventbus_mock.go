// Package mocks provides testify mocks of the persistence and event bus interfaces.
package mocks

import (
	"context"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/stretchr/testify/mock"
)

var _ eventbus.EventBus = (*MockEventBus)(nil)

// MockEventBus records bus calls. Handle registrations can be captured with
// mock.Run to drive handlers directly from a test.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	return m.Called(ctx, key, event).Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	return m.Called(eventType, handler).Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventBus) GenerateID() string {
	return m.Called().String(0)
}

func (m *MockEventBus) Close() error {
	return m.Called().Error(0)
}
