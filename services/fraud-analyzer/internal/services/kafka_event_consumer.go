package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/fraud-analyzer/configs"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/fraud-analyzer/internal/observability"
	"go.uber.org/zap"
)

const pollTimeout = 500 * time.Millisecond

var errNotSettled = errors.New("not a settled event")

// Analyzer is implemented by FraudAnalyzer.
type Analyzer interface {
	Analyze(ctx context.Context, event models.TransactionSettledData) (models.RiskAssessment, bool, error)
}

type KafkaEventConsumer interface {
	Start() func()
}

type KafkaEventConfig struct {
	Context  context.Context
	Logger   *zap.Logger
	Config   *configs.Config
	Analyzer Analyzer
}

type kafkaEventConsumer struct {
	cfg      KafkaEventConfig
	consumer *kafka.Consumer
	commits  *kafkautils.CommitManager
	sem      chan struct{}
	inflight sync.WaitGroup
}

func NewKafkaEventConsumer(cfg KafkaEventConfig) KafkaEventConsumer {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"group.id":           cfg.Config.KafkaFraudGroup,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		cfg.Logger.Fatal("kafka_consumer_create_failed", zap.Error(err))
	}
	maxJobs := cfg.Config.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	return &kafkaEventConsumer{
		cfg:      cfg,
		consumer: consumer,
		commits:  kafkautils.NewCommitManager(consumer, cfg.Logger),
		sem:      make(chan struct{}, maxJobs),
	}
}

func (k *kafkaEventConsumer) Start() func() {
	topic := k.cfg.Config.KafkaEventsTopic
	if err := k.consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		k.cfg.Logger.Fatal("kafka_subscribe_failed", zap.String("topic", topic), zap.Error(err))
	}
	k.cfg.Logger.Info("kafka_consumer_listening",
		zap.String("topic", topic),
		zap.String("group", k.cfg.Config.KafkaFraudGroup))

	ctx := k.cfg.Context
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for {
			if ctx.Err() != nil {
				return
			}
			msg, err := k.consumer.ReadMessage(pollTimeout)
			if err != nil {
				var kafkaErr kafka.Error
				if errors.As(err, &kafkaErr) && kafkaErr.IsTimeout() {
					continue
				}
				k.cfg.Logger.Error("kafka_read_failed", zap.Error(err))
				continue
			}
			k.commits.Track(msg)

			select {
			case k.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			k.inflight.Add(1)
			go func(m *kafka.Message) {
				defer k.inflight.Done()
				defer func() { <-k.sem }()
				k.process(ctx, m)
			}(msg)
		}
	}()

	return func() {
		<-loopDone
		k.inflight.Wait()
		if err := k.consumer.Close(); err != nil {
			k.cfg.Logger.Error("kafka_consumer_close_failed", zap.Error(err))
			return
		}
		k.cfg.Logger.Info("kafka_consumer_closed", zap.String("topic", topic))
	}
}

func (k *kafkaEventConsumer) process(ctx context.Context, msg *kafka.Message) {
	if traceID, ok := kafkautils.HeaderValue(msg.Headers, pkg.KafkaHeaderTraceId); ok {
		ctx = pkg.WithTraceID(ctx, traceID)
	}
	err := handleEvent(ctx, k.cfg.Logger, k.cfg.Analyzer, msg, k.cfg.Config.HandlerRetryWindow)
	if err != nil && ctx.Err() != nil {
		// Shutdown mid-retry: leave the offset uncommitted so the event is read again.
		return
	}
	if err != nil {
		k.cfg.Logger.Error("fraud_analysis_failed",
			zap.Int32("partition", msg.TopicPartition.Partition),
			zap.Int64("offset", int64(msg.TopicPartition.Offset)),
			zap.Error(err))
	}
	if err := k.commits.Ack(msg); err != nil {
		k.cfg.Logger.Error("kafka_commit_failed", zap.Error(err))
	}
}

// handleEvent scores one event, retrying analyzer failures with exponential backoff until
// retryWindow elapses. Events that are not Transaction.Settled, or cannot be decoded, are skipped.
func handleEvent(ctx context.Context, logger *zap.Logger, analyzer Analyzer, msg *kafka.Message, retryWindow time.Duration) error {
	event, err := decodeSettled(msg)
	if errors.Is(err, errNotSettled) {
		observability.EventsSkipped.WithLabelValues("other_type").Inc()
		return nil
	}
	if err != nil {
		observability.EventsSkipped.WithLabelValues("undecodable").Inc()
		logger.Warn("event_skipped", zap.Error(err))
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = retryWindow
	op := func() error {
		_, _, err := analyzer.Analyze(ctx, event)
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("fraud_analysis_retry",
			zap.String(pkg.TransactionId, event.TransactionID),
			zap.Duration("backoff", next),
			zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// decodeSettled reads the envelope and returns its Transaction.Settled payload.
func decodeSettled(msg *kafka.Message) (models.TransactionSettledData, error) {
	var event models.TransactionSettledData
	if t, ok := kafkautils.HeaderValue(msg.Headers, pkg.KafkaHeaderEventType); ok && t != pkg.EventTransactionSettled {
		return event, errNotSettled
	}
	var envelope models.EventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return event, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type != pkg.EventTransactionSettled {
		return event, errNotSettled
	}
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		return event, fmt.Errorf("decode %s data: %w", envelope.Type, err)
	}
	if event.TransactionID == "" {
		return event, errors.New("settled event without transaction id")
	}
	return event, nil
}
