package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for settlement-worker.
type Config struct {
	MetricsAddr             string        `mapstructure:"METRICS_ADDR" validate:"required"`
	KafkaBrokers            string        `mapstructure:"KAFKA_BROKERS" validate:"required"`
	PrimaryDbAddr           string        `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReadDbAddr              string        `mapstructure:"READ_DB_ADDR"`
	MaxDbCons               int32         `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons               int32         `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	KafkaPartition          uint32        `mapstructure:"KAFKA_PARTITION" validate:"min=1"`
	KafkaTransferTopic      string        `mapstructure:"KAFKA_TRANSFER_TOPIC" validate:"required"`
	KafkaTransferRetention  time.Duration `mapstructure:"KAFKA_TRANSFER_RETENTION" validate:"required"`
	KafkaTransferGroup      string        `mapstructure:"KAFKA_TRANSFER_CONSUMER_GROUP" validate:"required"`
	KafkaRetryTopic         string        `mapstructure:"KAFKA_RETRY_TOPIC" validate:"required"`
	KafkaRetryGroup         string        `mapstructure:"KAFKA_RETRY_CONSUMER_GROUP" validate:"required"`
	KafkaRetryRetention     time.Duration `mapstructure:"KAFKA_RETRY_RETENTION" validate:"required"`
	KafkaDLQTopic           string        `mapstructure:"KAFKA_DLQ_TOPIC" validate:"required"`
	KafkaDLQRetention       time.Duration `mapstructure:"KAFKA_DLQ_RETENTION" validate:"required"`
	KafkaEventsTopic        string        `mapstructure:"KAFKA_EVENTS_TOPIC" validate:"required"`
	KafkaEventsRetention    time.Duration `mapstructure:"KAFKA_EVENTS_RETENTION" validate:"required"`
	RetryBaseBackoff        time.Duration `mapstructure:"RETRY_BASE_BACKOFF" validate:"required"`
	MaxRetryBackoff         time.Duration `mapstructure:"MAX_RETRY_BACKOFF" validate:"required"`
	MaxDeliveryCount        int           `mapstructure:"MAX_DELIVERY_COUNT" validate:"min=1,max=50"`
	PublishTimeout          time.Duration `mapstructure:"PUBLISH_TIMEOUT" validate:"required"`
	RedisAddr               string        `mapstructure:"REDIS_ADDR" validate:"required"`
	IdempotencyTTL          time.Duration `mapstructure:"IDEMPOTENCY_TTL" validate:"required"`
	IntakeRatePerSec        float64       `mapstructure:"INTAKE_RATE_PER_SEC" validate:"min=0"`
	IntakeBurst             int           `mapstructure:"INTAKE_BURST" validate:"min=1"`
	MaxTransferConcurrent   int           `mapstructure:"MAX_TRANSFER_CONCURRENT_JOBS" validate:"min=1"`
	MaxRetryConcurrent      int           `mapstructure:"MAX_RETRY_CONCURRENT_JOBS" validate:"min=1"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app")
	viper.AutomaticEnv()

	viper.SetDefault("METRICS_ADDR", ":9102")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("KAFKA_TRANSFER_TOPIC", "transfers")
	viper.SetDefault("KAFKA_TRANSFER_RETENTION", "168h")
	viper.SetDefault("KAFKA_TRANSFER_CONSUMER_GROUP", "settlement-workers")
	viper.SetDefault("KAFKA_RETRY_TOPIC", "transfers-retry")
	viper.SetDefault("KAFKA_RETRY_CONSUMER_GROUP", "settlement-retry-workers")
	viper.SetDefault("KAFKA_RETRY_RETENTION", "72h")
	viper.SetDefault("KAFKA_DLQ_TOPIC", "transfers-dlq")
	viper.SetDefault("KAFKA_DLQ_RETENTION", "720h")
	viper.SetDefault("KAFKA_EVENTS_TOPIC", "transaction-events")
	viper.SetDefault("KAFKA_EVENTS_RETENTION", "168h")
	viper.SetDefault("RETRY_BASE_BACKOFF", "2s")
	viper.SetDefault("MAX_RETRY_BACKOFF", "5m")
	viper.SetDefault("MAX_DELIVERY_COUNT", "10")
	viper.SetDefault("PUBLISH_TIMEOUT", "5s")
	viper.SetDefault("IDEMPOTENCY_TTL", "168h")
	viper.SetDefault("INTAKE_RATE_PER_SEC", "0")
	viper.SetDefault("INTAKE_BURST", "50")
	viper.SetDefault("MAX_TRANSFER_CONCURRENT_JOBS", "32")
	viper.SetDefault("MAX_RETRY_CONCURRENT_JOBS", "8")

	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/settlement-worker/configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
