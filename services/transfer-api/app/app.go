package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/cache"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/database"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	middleware "github.com/nimeshabuddhika/resilient-card-settlement/pkg/middlewares"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/ratelimit"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/validation"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/transfer-api/configs"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/transfer-api/internal/handlers"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/transfer-api/internal/services"
	"go.uber.org/zap"
)

// RouterConfig carries what the HTTP layer needs; NewApp fills it from real adapters.
type RouterConfig struct {
	Logger           *zap.Logger
	Service          services.TransferService
	Cards            services.CardService
	Limiter          *ratelimit.SlidingWindowLimiter
	Global           middleware.GlobalLimiter // optional
	RateLimitMessage string
}

// NewRouter builds the Gin engine with tracing, metrics and rate limiting on /api/v1.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Logger:  cfg.Logger,
		Limiter: cfg.Limiter,
		Global:  cfg.Global,
		Message: cfg.RateLimitMessage,
	}))

	handlers.NewTransferHandler(cfg.Logger, cfg.Service).RegisterRoutes(api)
	handlers.NewCardHandler(cfg.Logger, cfg.Cards).RegisterRoutes(api)
	handlers.NewBaseHandler(cfg.Logger).RegisterRoutes(r)
	return r
}

// NewApp wires dependencies, builds the Gin engine, and returns an *http.Server and a cleanup func.
// It reads configuration from environment variables via configs.Load.
func NewApp(ctx context.Context, logger *zap.Logger) (*http.Server, func(), error) {
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, err
	}

	// Initialize postgres db
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
		return nil, nil, err
	}

	// Run migrations on primary
	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		disconnect()
		return nil, nil, err
	}

	partitions := int(cfg.KafkaPartition)
	err = kafkautils.InitKafkaTopics(logger, ctx, kafkautils.KafkaConfig{
		BootstrapServers: cfg.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			kafkautils.NewTopic(cfg.KafkaTransferTopic, partitions, cfg.KafkaTransferRetention),
			kafkautils.NewTopic(cfg.KafkaEventsTopic, partitions, cfg.KafkaEventsRetention),
		},
	})
	if err != nil {
		disconnect()
		return nil, nil, err
	}
	producer, err := kafkautils.NewProducer(logger, cfg.KafkaBrokers)
	if err != nil {
		disconnect()
		return nil, nil, err
	}

	var global middleware.GlobalLimiter
	redisCloser := func() {}
	if !utils.IsEmpty(cfg.RedisAddr) {
		client, closer, err := cache.New(ctx, logger, cache.Config{Addr: cfg.RedisAddr})
		if err != nil {
			kafkautils.CloseProducer(logger, producer, 1000)
			disconnect()
			return nil, nil, err
		}
		redisCloser = closer
		global = ratelimit.NewRedisWindowLimiter(client, logger, ratelimit.RedisWindowConfig{
			KeyPrefix:   "ratelimit:transfers:",
			Capacity:    cfg.GlobalRateLimit,
			Window:      cfg.RateLimitWindow,
			ReplicaRate: cfg.ReplicaRateLimit,
		})
	}

	service := services.NewTransferService(services.TransferServiceConfig{
		Logger:    logger,
		Queue:     services.NewKafkaTransferQueue(logger, producer, cfg.KafkaTransferTopic, cfg.PublishTimeout),
		Publisher: kafkautils.NewEventPublisher(kafkautils.EventPublisherConfig{Logger: logger, Producer: producer, Topic: cfg.KafkaEventsTopic}),
		Validator: validation.NewTransactionValidator(),
		Outcomes:  repositories.NewPostgresTransactionStore(logger, db),

		PublishTimeout: cfg.PublishTimeout,
	})

	limiter := ratelimit.New(cfg.RateLimitCapacity, cfg.RateLimitWindow)
	stopCleanup := middleware.StartRateLimitCleanup(logger, limiter, cfg.RateLimitCleanup)

	r := NewRouter(RouterConfig{
		Logger:           logger,
		Service:          service,
		Cards:            services.NewCardService(logger, repositories.NewPostgresAccountStore(logger, db)),
		Limiter:          limiter,
		Global:           global,
		RateLimitMessage: cfg.RateLimitMessage,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	cleanup := func() {
		stopCleanup()
		kafkautils.CloseProducer(logger, producer, 5000)
		redisCloser()
		disconnect()
	}

	return srv, cleanup, nil
}
