package kafkautils

import (
	"context"
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"go.uber.org/zap"
)

type EventPublisherConfig struct {
	Logger   *zap.Logger
	Producer Producer
	Topic    string
	Now      func() time.Time
}

// EventPublisher writes event envelopes to the events topic keyed by subject.
type EventPublisher struct {
	logger   *zap.Logger
	producer Producer
	topic    string
	now      func() time.Time
}

func NewEventPublisher(cfg EventPublisherConfig) *EventPublisher {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &EventPublisher{logger: cfg.Logger, producer: cfg.Producer, topic: cfg.Topic, now: now}
}

// Publish waits for the broker acknowledgement, bounded by ctx.
func (p *EventPublisher) Publish(ctx context.Context, eventType, subject string, payload any) error {
	envelope, err := models.NewEventEnvelope(eventType, pkg.EventSource, subject, payload, p.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: pkg.KafkaHeaderEventType, Value: []byte(eventType)}}
	if traceID := pkg.TraceIDFrom(ctx); traceID != "" {
		headers = append(headers, kafka.Header{Key: pkg.KafkaHeaderTraceId, Value: []byte(traceID)})
	}

	topic := p.topic
	err = ProduceSync(ctx, p.producer, &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(subject),
		Value:          body,
		Headers:        headers,
	})
	if err != nil {
		return err
	}
	p.logger.Debug("event_published",
		zap.String("event_type", eventType),
		zap.String("event_id", envelope.ID),
		zap.String("subject", subject))
	return nil
}
