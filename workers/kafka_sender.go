package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"participation-points/metrics"
	"participation-points/models"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the sender needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender hands notifications to a downstream push gateway via a topic.
// The item is delivered once the broker acknowledges the write.
type KafkaSender struct {
	writer messageWriter
	topic  string
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		topic: topic,
	}
}

type notificationEnvelope struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	SubscriptionRef string          `json:"subscription_ref"`
	Attempts        int             `json:"attempts"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

func buildKafkaMessage(item models.NotificationQueueItem) (kafka.Message, error) {
	payload := json.RawMessage(item.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	value, err := json.Marshal(notificationEnvelope{
		ID:              item.ID,
		UserID:          item.UserID,
		SubscriptionRef: item.SubscriptionRef,
		Attempts:        item.Attempts,
		Payload:         payload,
		CreatedAt:       item.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		// keyed by user so one user's notifications stay ordered on a partition
		Key:   []byte(item.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "notification-id", Value: []byte(item.ID)},
		},
	}, nil
}

func (k *KafkaSender) Name() string { return "kafka" }

func (k *KafkaSender) Send(ctx context.Context, item models.NotificationQueueItem) error {
	msg, err := buildKafkaMessage(item)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		metrics.KafkaPublishFailureTotal.WithLabelValues(k.topic).Inc()
		return fmt.Errorf("kafka publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSender) Close() error {
	return k.writer.Close()
}
