package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit records to a Kafka topic for downstream
// compliance consumers. Records are keyed by event ID so one event's trail
// lands on a single partition in order.
type KafkaSink struct {
	writer *kafka.Writer
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink creates a sink publishing to the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           100 * time.Millisecond,
			WriteTimeout:           5 * time.Second,
		},
	}
}

// Append publishes the records as JSON messages.
func (s *KafkaSink) Append(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode audit record %s: %w", r.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.EventID),
			Value: payload,
			Time:  r.Timestamp,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish audit records: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
