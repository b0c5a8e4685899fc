package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for fraud-analyzer.
type Config struct {
	MetricsAddr        string        `mapstructure:"METRICS_ADDR" validate:"required"`
	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS" validate:"required"`
	PrimaryDbAddr      string        `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReadDbAddr         string        `mapstructure:"READ_DB_ADDR"`
	MaxDbCons          int32         `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons          int32         `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	KafkaEventsTopic   string        `mapstructure:"KAFKA_EVENTS_TOPIC" validate:"required"`
	KafkaFraudGroup    string        `mapstructure:"KAFKA_FRAUD_CONSUMER_GROUP" validate:"required"`
	MaxConcurrentJobs  int           `mapstructure:"MAX_FRAUD_CONCURRENT_JOBS" validate:"min=1"`
	PublishTimeout     time.Duration `mapstructure:"PUBLISH_TIMEOUT" validate:"required"`
	HandlerRetryWindow time.Duration `mapstructure:"HANDLER_RETRY_WINDOW" validate:"required"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app")
	viper.AutomaticEnv()

	viper.SetDefault("METRICS_ADDR", ":9103")
	viper.SetDefault("MAX_DB_CONNECTIONS", "5")
	viper.SetDefault("MIN_DB_CONNECTIONS", "1")
	viper.SetDefault("KAFKA_EVENTS_TOPIC", "transaction-events")
	viper.SetDefault("KAFKA_FRAUD_CONSUMER_GROUP", "fraud-analyzers")
	viper.SetDefault("MAX_FRAUD_CONCURRENT_JOBS", "8")
	viper.SetDefault("PUBLISH_TIMEOUT", "5s")
	viper.SetDefault("HANDLER_RETRY_WINDOW", "30s")

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
	viper.AddConfigPath("./services/fraud-analyzer/configs")
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
