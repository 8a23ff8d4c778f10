package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkPublish(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "crm.record-events", zap.NewNop())
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	err := sink.Publish(context.Background(), &events.RecordEvent{
		Type:       events.RecordCreated,
		Entity:     "leads",
		TenantID:   "t1",
		RecordID:   "l1",
		Record:     models.Record{"id": "l1", "last_name": "Lovelace"},
		OccurredAt: at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "t1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "record.created", string(msg.Headers[0].Value))

	var decoded events.RecordEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "l1", decoded.RecordID)
	assert.Equal(t, "Lovelace", decoded.Record.GetString("last_name"))

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkPublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w, "crm.record-events", zap.NewNop())

	err := sink.Publish(context.Background(), &events.RecordEvent{Type: events.RecordDeleted, TenantID: "t1"})
	assert.ErrorContains(t, err, "broker down")
}
