package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/ports"
	"go.uber.org/zap"
)

type subscription struct {
	id      uint64
	handler ports.EventHandler
}

// EventBus manages publish-subscribe event system.
// It implements ports.EventPublisher interface.
type EventBus struct {
	handlers map[events.EventType][]subscription
	nextID   uint64
	mu       sync.RWMutex
	logger   *zap.Logger
}

// Ensure EventBus implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new EventBus instance
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[events.EventType][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for a specific event type
// Returns an unsubscribe function
func (eb *EventBus) Subscribe(eventType events.EventType, handler ports.EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		subs := eb.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeAll registers handler for every record event type and returns a
// function removing all of those subscriptions.
func (eb *EventBus) SubscribeAll(handler ports.EventHandler) func() {
	unsubs := make([]func(), 0, len(events.RecordEventTypes))
	for _, t := range events.RecordEventTypes {
		unsubs = append(unsubs, eb.Subscribe(t, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish runs every handler of the event's type in subscription order and
// stops at the first failure.
func (eb *EventBus) Publish(ctx context.Context, event *events.RecordEvent) error {
	eb.mu.RLock()
	subs := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			return fmt.Errorf("EventBus handler error for %s: %w", event.Type, err)
		}
	}
	return nil
}

// PublishAsync publishes an event asynchronously
func (eb *EventBus) PublishAsync(event *events.RecordEvent) {
	go func() {
		// Async events are decoupled from the request and its transaction.
		if err := eb.Publish(context.Background(), event); err != nil {
			eb.logger.Warn("EventBus async publish error", zap.String("type", event.Type.String()), zap.Error(err))
		}
	}()
}

// Clear removes all handlers (useful for testing)
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = make(map[events.EventType][]subscription)
}
