package kafkautils

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Producer is the subset of *kafka.Producer used by publishers and deliveries.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

var ErrDeliveryTimeout = errors.New("kafka delivery report not received")

// NewProducer creates an idempotent producer that waits for all replicas.
// Async delivery failures are logged from a background reader of Events().
func NewProducer(logger *zap.Logger, brokers string) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": "true",
		"linger.ms":          "5",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	logger.Info("kafka_producer_created", zap.String("brokers", brokers))
	go handleDeliveryReports(logger, p)
	return p, nil
}

// CloseProducer flushes pending messages and closes the producer.
func CloseProducer(logger *zap.Logger, p *kafka.Producer, flushTimeoutMs int) {
	if remaining := p.Flush(flushTimeoutMs); remaining > 0 {
		logger.Warn("kafka_producer_unflushed", zap.Int("remaining", remaining))
	}
	p.Close()
}

// ProduceSync produces msg and waits for its delivery report or ctx.
func ProduceSync(ctx context.Context, p Producer, msg *kafka.Message) error {
	delivery := make(chan kafka.Event, 1)
	if err := p.Produce(msg, delivery); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDeliveryTimeout, ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %v", e)
		}
		return m.TopicPartition.Error
	}
}

func handleDeliveryReports(logger *zap.Logger, p *kafka.Producer) {
	for e := range p.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				topic := ""
				if ev.TopicPartition.Topic != nil {
					topic = *ev.TopicPartition.Topic
				}
				logger.Error("kafka_delivery_failed", zap.String("topic", topic), zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			logger.Warn("kafka_producer_error", zap.Error(ev))
		}
	}
}
