package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestEventBusPublishesInOrder(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	var calls []string
	bus.Subscribe(events.RecordCreated, func(ctx context.Context, e *events.RecordEvent) error {
		calls = append(calls, "first:"+e.RecordID)
		return nil
	})
	bus.Subscribe(events.RecordCreated, func(ctx context.Context, e *events.RecordEvent) error {
		calls = append(calls, "second:"+e.RecordID)
		return nil
	})
	bus.Subscribe(events.RecordDeleted, func(ctx context.Context, e *events.RecordEvent) error {
		calls = append(calls, "deleted")
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), &events.RecordEvent{Type: events.RecordCreated, RecordID: "r1"}))
	assert.Equal(t, []string{"first:r1", "second:r1"}, calls)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	count := 0
	unsubscribe := bus.SubscribeAll(func(ctx context.Context, e *events.RecordEvent) error {
		count++
		return nil
	})

	for _, typ := range events.RecordEventTypes {
		require.NoError(t, bus.Publish(context.Background(), &events.RecordEvent{Type: typ}))
	}
	assert.Equal(t, 3, count)

	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), &events.RecordEvent{Type: events.RecordUpdated}))
	assert.Equal(t, 3, count)
}

func TestEventBusStopsAtFirstError(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	boom := errors.New("boom")
	reached := false
	bus.Subscribe(events.RecordUpdated, func(ctx context.Context, e *events.RecordEvent) error { return boom })
	bus.Subscribe(events.RecordUpdated, func(ctx context.Context, e *events.RecordEvent) error {
		reached = true
		return nil
	})

	err := bus.Publish(context.Background(), &events.RecordEvent{Type: events.RecordUpdated})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
}

func TestEventBusPublishAsync(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewEventBus(zap.NewNop())
	done := make(chan string, 1)
	bus.Subscribe(events.RecordCreated, func(ctx context.Context, e *events.RecordEvent) error {
		done <- e.RecordID
		return nil
	})

	bus.PublishAsync(&events.RecordEvent{Type: events.RecordCreated, RecordID: "r9"})
	select {
	case id := <-done:
		assert.Equal(t, "r9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}
