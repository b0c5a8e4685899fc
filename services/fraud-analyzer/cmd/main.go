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
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/database"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/fraud-analyzer/configs"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/fraud-analyzer/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// main initializes and runs the fraud analyzer service.
func main() {
	pkg.InitLogger("fraud-analyzer")
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

	producer, err := kafkautils.NewProducer(logger, cfg.KafkaBrokers)
	if err != nil {
		logger.Fatal("failed_to_create_kafka_producer", zap.Error(err))
	}

	analyzer := services.NewFraudAnalyzer(services.FraudAnalyzerConfig{
		Logger: logger,
		Store:  repositories.NewPostgresRiskAssessmentStore(logger, db),
		Publisher: &timeoutPublisher{
			timeout: cfg.PublishTimeout,
			next: kafkautils.NewEventPublisher(kafkautils.EventPublisherConfig{
				Logger:   logger,
				Producer: producer,
				Topic:    cfg.KafkaEventsTopic,
			}),
		},
	})

	closeConsumer := services.NewKafkaEventConsumer(services.KafkaEventConfig{
		Context:  ctx,
		Logger:   logger,
		Config:   cfg,
		Analyzer: analyzer,
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
	closeConsumer()
	kafkautils.CloseProducer(logger, producer, 5000)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics_server_shutdown_error", zap.Error(err))
	}
	logger.Info("service_shutdown_completed")
}

// timeoutPublisher bounds each alert publish by the configured timeout.
type timeoutPublisher struct {
	timeout time.Duration
	next    services.EventPublisher
}

func (p *timeoutPublisher) Publish(ctx context.Context, eventType, subject string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.Publish(ctx, eventType, subject, payload)
}
