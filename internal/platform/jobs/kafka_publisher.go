package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOrderPublisher writes order lifecycle events to a Kafka topic. Messages are keyed by
// order number so every event of one order lands on the same partition in order.
type KafkaOrderPublisher struct {
	writer messageWriter
}

var _ services.OrderEventPublisher = (*KafkaOrderPublisher)(nil)

// NewKafkaOrderPublisher builds a synchronous writer that waits for all in-sync replicas.
func NewKafkaOrderPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaOrderPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka order publisher: brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka order publisher: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	printf := observability.NewPrintfAdapter(logger.Named("kafka"))
	return newKafkaOrderPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		ErrorLogger:  kafka.LoggerFunc(printf.Printf),
	}), nil
}

func newKafkaOrderPublisher(writer messageWriter) *KafkaOrderPublisher {
	return &KafkaOrderPublisher{writer: writer}
}

// PublishOrderEvent writes a single message and returns once it is acknowledged.
func (p *KafkaOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka order publisher: not initialised")
	}
	data, err := encodeOrderEvent(event)
	if err != nil {
		return err
	}
	attrs := eventAttributes(event)
	headers := make([]kafka.Header, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	msg := kafka.Message{
		Key:     []byte(event.OrderNumber),
		Value:   data,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaOrderPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
