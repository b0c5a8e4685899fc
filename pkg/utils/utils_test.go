package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCalculateExponentialBackoffWithJitter_Bounds(t *testing.T) {
	base := time.Second
	maxDelay := 30 * time.Second

	assert.Equal(t, time.Duration(0), CalculateExponentialBackoffWithJitter(0, base, maxDelay))

	for count := 1; count <= 12; count++ {
		delay := CalculateExponentialBackoffWithJitter(count, base, maxDelay)
		assert.Greater(t, delay, time.Duration(0), "count %d", count)
		assert.LessOrEqual(t, delay, maxDelay, "count %d", count)
	}

	// Third retry is 4s +/- 12.5%.
	delay := CalculateExponentialBackoffWithJitter(3, base, maxDelay)
	assert.GreaterOrEqual(t, delay, 3500*time.Millisecond)
	assert.LessOrEqual(t, delay, 4500*time.Millisecond)
}

func TestCalculateExponentialBackoffWithJitter_LargeCountCaps(t *testing.T) {
	delay := CalculateExponentialBackoffWithJitter(200, time.Second, time.Minute)

	assert.LessOrEqual(t, delay, time.Minute)
	assert.Greater(t, delay, 50*time.Second)
}

type sampleConfig struct {
	Brokers string `mapstructure:"KAFKA_BROKERS" validate:"required"`
	Workers int    `mapstructure:"MAX_WORKERS" validate:"min=1"`
}

func TestFormatConfigErrors_UsesEnvKeys(t *testing.T) {
	cfg := sampleConfig{}
	err := validator.New().Struct(&cfg)

	formatted := FormatConfigErrors(zap.NewNop(), err, &cfg)

	assert.EqualError(t, formatted, "invalid configuration: KAFKA_BROKERS fails required, MAX_WORKERS fails min=1")
}

func TestFormatConfigErrors_NonValidationError(t *testing.T) {
	formatted := FormatConfigErrors(zap.NewNop(), errors.New("boom"), sampleConfig{})

	assert.EqualError(t, formatted, "invalid configuration: boom")
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, 0, CeilSeconds(-time.Second))
	assert.Equal(t, 1, CeilSeconds(10*time.Millisecond))
	assert.Equal(t, 40, CeilSeconds(40*time.Second))
}
