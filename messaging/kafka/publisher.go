// Package kafka streams audit entries to a Kafka topic so downstream systems
// (payroll, reporting) can follow leave activity without polling.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

const DefaultTopic = "leave.audit"

// Writer is the subset of *kafkago.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher implements leave.Publisher. Entries are keyed by subject so all
// events for one request or balance land on the same partition, in order.
type Publisher struct {
	writer Writer
	topic  string
	logger *zap.Logger
}

var _ leave.Publisher = (*Publisher)(nil)

func NewPublisher(writer Writer, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, topic: topic, logger: logger.Named("kafka.publisher")}
}

// NewWriter builds an async writer for brokers. WriteMessages only enqueues,
// so publishing never blocks the caller holding the employee lock. Delivery
// failures are reported to logger from the writer's completion callback.
func NewWriter(brokers []string, logger *zap.Logger) *kafkago.Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   deliveryReporter(logger.Named("kafka.writer")),
	}
}

func deliveryReporter(logger *zap.Logger) func([]kafkago.Message, error) {
	return func(msgs []kafkago.Message, err error) {
		if err == nil {
			return
		}
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, headerValue(m, "audit_id"))
		}
		logger.Error("audit delivery failed", zap.Strings("audit_ids", ids), zap.Error(err))
	}
}

func headerValue(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (p *Publisher) Publish(ctx context.Context, e leave.AuditEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry %s: %w", e.ID, err)
	}

	headers := []kafkago.Header{
		{Key: "event_type", Value: []byte(e.Action)},
		{Key: "actor_id", Value: []byte(e.ActorID)},
		{Key: "audit_id", Value: []byte(e.ID)},
	}
	if e.BatchID != "" {
		headers = append(headers, kafkago.Header{Key: "batch_id", Value: []byte(e.BatchID)})
	}

	msg := kafkago.Message{
		Topic:   p.topic,
		Key:     []byte(e.SubjectID),
		Value:   payload,
		Headers: headers,
		Time:    e.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit entry %s: %w", e.ID, err)
	}

	p.logger.Debug("audit entry queued",
		zap.String("audit_id", e.ID),
		zap.String("event_type", string(e.Action)),
		zap.String("topic", p.topic),
	)
	return nil
}

// Close flushes queued messages and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
