package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Port                   string        `mapstructure:"PORT" validate:"required"`
	KafkaBrokers           string        `mapstructure:"KAFKA_BROKERS" validate:"required"`
	PrimaryDbAddr          string        `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReadDbAddr             string        `mapstructure:"READ_DB_ADDR"`
	MaxDbCons              int32         `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons              int32         `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	KafkaPartition         uint32        `mapstructure:"KAFKA_PARTITION" validate:"min=1"`
	KafkaTransferTopic     string        `mapstructure:"KAFKA_TRANSFER_TOPIC" validate:"required"`
	KafkaTransferRetention time.Duration `mapstructure:"KAFKA_TRANSFER_RETENTION" validate:"required"`
	KafkaEventsTopic       string        `mapstructure:"KAFKA_EVENTS_TOPIC" validate:"required"`
	KafkaEventsRetention   time.Duration `mapstructure:"KAFKA_EVENTS_RETENTION" validate:"required"`
	PublishTimeout         time.Duration `mapstructure:"PUBLISH_TIMEOUT" validate:"required"`
	RateLimitCapacity      int           `mapstructure:"RATE_LIMIT_CAPACITY" validate:"min=1"`
	RateLimitWindow        time.Duration `mapstructure:"RATE_LIMIT_WINDOW" validate:"required"`
	RateLimitCleanup       time.Duration `mapstructure:"RATE_LIMIT_CLEANUP_INTERVAL" validate:"required"`
	RateLimitMessage       string        `mapstructure:"RATE_LIMIT_MESSAGE"`
	// RedisAddr enables the fleet-wide limiter when set.
	RedisAddr        string  `mapstructure:"REDIS_ADDR"`
	GlobalRateLimit  int     `mapstructure:"GLOBAL_RATE_LIMIT_CAPACITY" validate:"min=1"`
	ReplicaRateLimit float64 `mapstructure:"GLOBAL_RATE_LIMIT_REPLICA_RATE" validate:"min=0"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("KAFKA_TRANSFER_TOPIC", "transfers")
	viper.SetDefault("KAFKA_TRANSFER_RETENTION", "168h")
	viper.SetDefault("KAFKA_EVENTS_TOPIC", "transaction-events")
	viper.SetDefault("KAFKA_EVENTS_RETENTION", "168h")
	viper.SetDefault("PUBLISH_TIMEOUT", "5s")
	viper.SetDefault("RATE_LIMIT_CAPACITY", "100")
	viper.SetDefault("RATE_LIMIT_WINDOW", "1m")
	viper.SetDefault("RATE_LIMIT_CLEANUP_INTERVAL", "5m")
	viper.SetDefault("GLOBAL_RATE_LIMIT_CAPACITY", "1000")
	viper.SetDefault("GLOBAL_RATE_LIMIT_REPLICA_RATE", "200")

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
	viper.AddConfigPath("./services/transfer-api/configs")
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
