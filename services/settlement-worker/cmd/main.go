package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/cache"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/database"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/locks"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/validation"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/settlement-worker/configs"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/settlement-worker/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// main initializes and runs the settlement worker service.
func main() {
	pkg.InitLogger("settlement-worker")
	logger := pkg.Logger
	defer logger.Sync()

	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig := database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	}
	if !utils.IsEmpty(cfg.ReadDbAddr) {
		dbConfig.ReadDSNs = []string{cfg.ReadDbAddr}
	}
	db, disconnect, err := database.New(ctx, logger, dbConfig)
	if err != nil {
		logger.Fatal("failed_to_connect_database", zap.Error(err))
	}
	defer disconnect()

	redisClient, redisCloser, err := cache.New(ctx, logger, cache.Config{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Fatal("failed_to_connect_redis", zap.Error(err))
	}
	defer redisCloser()

	partitions := int(cfg.KafkaPartition)
	err = kafkautils.InitKafkaTopics(logger, ctx, kafkautils.KafkaConfig{
		BootstrapServers: cfg.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			kafkautils.NewTopic(cfg.KafkaTransferTopic, partitions, cfg.KafkaTransferRetention),
			kafkautils.NewTopic(cfg.KafkaRetryTopic, partitions, cfg.KafkaRetryRetention),
			kafkautils.NewTopic(cfg.KafkaDLQTopic, partitions, cfg.KafkaDLQRetention),
			kafkautils.NewTopic(cfg.KafkaEventsTopic, partitions, cfg.KafkaEventsRetention),
		},
	})
	if err != nil {
		logger.Fatal("failed_to_initialize_kafka_topics", zap.Error(err))
	}

	producer, err := kafkautils.NewProducer(logger, cfg.KafkaBrokers)
	if err != nil {
		logger.Fatal("failed_to_create_kafka_producer", zap.Error(err))
	}

	engine := services.NewSettlementEngine(services.SettlementEngineConfig{
		Logger:       logger,
		Accounts:     repositories.NewPostgresAccountStore(logger, db),
		Transactions: repositories.NewPostgresTransactionStore(logger, db),
		Locks:        locks.NewKeyedMutex(),
	})
	pipeline := services.NewSettlementPipeline(services.SettlementPipelineConfig{
		Logger:    logger,
		Engine:    engine,
		Validator: validation.NewTransactionValidator(),
		Publisher: kafkautils.NewEventPublisher(kafkautils.EventPublisherConfig{
			Logger:   logger,
			Producer: producer,
			Topic:    cfg.KafkaEventsTopic,
		}),
		Audit:            services.NewZapAuditSink(logger),
		Idempotency:      services.NewRedisIdempotencyGuard(redisClient, cfg.IdempotencyTTL),
		MaxDeliveryCount: cfg.MaxDeliveryCount,
		PublishTimeout:   cfg.PublishTimeout,
	})

	var intake *rate.Limiter
	if cfg.IntakeRatePerSec > 0 {
		intake = rate.NewLimiter(rate.Limit(cfg.IntakeRatePerSec), cfg.IntakeBurst)
	}

	closeTransferConsumer := services.NewKafkaTransferConsumer(services.KafkaTransferConfig{
		Context:       ctx,
		Logger:        logger,
		Config:        cfg,
		Pipeline:      pipeline,
		Producer:      producer,
		Topic:         cfg.KafkaTransferTopic,
		Group:         cfg.KafkaTransferGroup,
		MaxConcurrent: cfg.MaxTransferConcurrent,
		Intake:        intake,
	}).Start()
	closeRetryConsumer := services.NewKafkaTransferConsumer(services.KafkaTransferConfig{
		Context:       ctx,
		Logger:        logger,
		Config:        cfg,
		Pipeline:      pipeline,
		Producer:      producer,
		Topic:         cfg.KafkaRetryTopic,
		Group:         cfg.KafkaRetryGroup,
		MaxConcurrent: cfg.MaxRetryConcurrent,
		DelayAware:    true,
	}).Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics_server_started", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	osSignal := <-sigChan
	logger.Info("shutdown_signal_received", zap.String("signal", osSignal.String()))

	cancel()
	closeTransferConsumer()
	closeRetryConsumer()
	pipeline.Close()
	kafkautils.CloseProducer(logger, producer, 5000)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics_server_shutdown_error", zap.Error(err))
	}
	logger.Info("service_shutdown_completed")
}
