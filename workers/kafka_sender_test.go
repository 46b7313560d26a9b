package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"participation-points/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestBuildKafkaMessage(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := buildKafkaMessage(models.NotificationQueueItem{
		ID: "n1", UserID: "u1", SubscriptionRef: "u1", Attempts: 1,
		Payload: []byte(`{"title":"Gold"}`), CreatedAt: created,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("u1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "notification-id", msg.Headers[0].Key)
	assert.Equal(t, []byte("n1"), msg.Headers[0].Value)

	var env notificationEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "n1", env.ID)
	assert.JSONEq(t, `{"title":"Gold"}`, string(env.Payload))
	assert.True(t, created.Equal(env.CreatedAt))
}

func TestKafkaSenderSend(t *testing.T) {
	w := &fakeWriter{}
	sender := &KafkaSender{writer: w, topic: "notifications.awards"}

	require.NoError(t, sender.Send(context.Background(), models.NotificationQueueItem{ID: "n1", UserID: "u1"}))
	require.Len(t, w.msgs, 1)

	w.err = errors.New("leader not available")
	err := sender.Send(context.Background(), models.NotificationQueueItem{ID: "n2", UserID: "u1"})
	assert.ErrorContains(t, err, "notifications.awards")
}
