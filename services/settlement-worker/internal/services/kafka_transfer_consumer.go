package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/settlement-worker/configs"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/settlement-worker/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const pollTimeout = 500 * time.Millisecond

// DeliveryHandler is implemented by SettlementPipeline.
type DeliveryHandler interface {
	Handle(ctx context.Context, d Delivery) (PipelineState, error)
}

// KafkaTransferConsumer feeds transfer messages from one topic into the pipeline.
type KafkaTransferConsumer interface {
	Start() func()
}

// KafkaTransferConfig holds configuration and dependencies for one transfer consumer.
type KafkaTransferConfig struct {
	Context       context.Context
	Logger        *zap.Logger
	Config        *configs.Config
	Pipeline      DeliveryHandler
	Producer      kafkautils.Producer // retry and DLQ writes
	Topic         string
	Group         string
	MaxConcurrent int
	// DelayAware makes the consumer wait for x-not-before. Set it on the retry topic consumer.
	DelayAware bool
	// Intake optionally throttles how fast messages are pulled.
	Intake *rate.Limiter
}

type kafkaTransferConsumer struct {
	cfg       KafkaTransferConfig
	consumer  *kafka.Consumer
	commits   *kafkautils.CommitManager
	transport *deliveryTransport
	sem       chan struct{}
	inflight  sync.WaitGroup
}

func NewKafkaTransferConsumer(cfg KafkaTransferConfig) KafkaTransferConsumer {
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"group.id":           cfg.Group,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	}
	if cfg.DelayAware {
		// Delayed messages hold a slot while they wait, so polling can stall for up to the max backoff.
		pollInterval := cfg.Config.MaxRetryBackoff + time.Minute
		_ = kafkaConfig.SetKey("max.poll.interval.ms", strconv.FormatInt(pollInterval.Milliseconds(), 10))
	}
	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		cfg.Logger.Fatal("kafka_consumer_create_failed", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	commits := kafkautils.NewCommitManager(consumer, cfg.Logger)
	return &kafkaTransferConsumer{
		cfg:      cfg,
		consumer: consumer,
		commits:  commits,
		transport: &deliveryTransport{
			commits:     commits,
			producer:    cfg.Producer,
			retryTopic:  cfg.Config.KafkaRetryTopic,
			dlqTopic:    cfg.Config.KafkaDLQTopic,
			baseBackoff: cfg.Config.RetryBaseBackoff,
			maxBackoff:  cfg.Config.MaxRetryBackoff,
			now:         time.Now,
		},
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start runs the poll loop until the context is cancelled. The returned cleanup waits for the
// loop and in-flight deliveries, then closes the consumer; cancel the context before calling it.
func (k *kafkaTransferConsumer) Start() func() {
	if err := k.consumer.SubscribeTopics([]string{k.cfg.Topic}, nil); err != nil {
		k.cfg.Logger.Fatal("kafka_subscribe_failed", zap.String("topic", k.cfg.Topic), zap.Error(err))
	}
	k.cfg.Logger.Info("kafka_consumer_listening",
		zap.String("topic", k.cfg.Topic),
		zap.String("group", k.cfg.Group),
		zap.Int("max_concurrent", k.cfg.MaxConcurrent))

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
				k.cfg.Logger.Error("kafka_read_failed", zap.String("topic", k.cfg.Topic), zap.Error(err))
				continue
			}
			observability.MessagesReceived.WithLabelValues(k.cfg.Topic).Inc()

			if k.cfg.Intake != nil {
				if err := k.cfg.Intake.Wait(ctx); err != nil {
					return
				}
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
			k.cfg.Logger.Error("kafka_consumer_close_failed", zap.String("topic", k.cfg.Topic), zap.Error(err))
			return
		}
		k.cfg.Logger.Info("kafka_consumer_closed", zap.String("topic", k.cfg.Topic))
	}
}

func (k *kafkaTransferConsumer) process(ctx context.Context, msg *kafka.Message) {
	observability.InflightDeliveries.Inc()
	defer observability.InflightDeliveries.Dec()

	d := k.transport.wrap(msg)
	if k.cfg.DelayAware {
		if notBefore, ok := d.NotBefore(); ok {
			if wait := time.Until(notBefore); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}
	}

	state, err := k.cfg.Pipeline.Handle(ctx, d)
	fields := []zap.Field{
		zap.String("topic", k.cfg.Topic),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		zap.Int("delivery_count", d.DeliveryCount()),
		zap.Stringer("state", state),
	}
	if traceID, ok := kafkautils.HeaderValue(msg.Headers, pkg.KafkaHeaderTraceId); ok {
		fields = append(fields, zap.String(pkg.TraceId, traceID))
	}
	if !d.Acked() {
		k.cfg.Logger.Warn("delivery_unacked", append(fields, zap.Error(err))...)
		_ = k.transport.redrive(ctx, k.cfg.Logger, d)
		return
	}
	if err != nil {
		k.cfg.Logger.Warn("delivery_handled_with_error", append(fields, zap.Error(err))...)
		return
	}
	k.cfg.Logger.Debug("delivery_handled", fields...)
}
