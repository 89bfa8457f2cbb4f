package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes notification intents for the mail workers downstream.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (k *KafkaSink) Send(ctx context.Context, n domain.NotificationIntent) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Recipient),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// LogSink stands in for the transport in local runs.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Send(_ context.Context, n domain.NotificationIntent) error {
	l.logger.Info("notification",
		"module", "notify",
		"operation", "send",
		"outcome", "logged",
		"kind", n.Kind,
		"recipient", n.Recipient,
		"notification_id", n.ID,
	)
	return nil
}

func (l *LogSink) Close() error { return nil }
