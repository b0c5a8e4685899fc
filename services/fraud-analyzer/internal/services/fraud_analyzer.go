package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/fraud"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/fraud-analyzer/internal/observability"
	"go.uber.org/zap"
)

type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject string, payload any) error
}

type FraudAnalyzerConfig struct {
	Logger    *zap.Logger
	Store     repositories.RiskAssessmentStore
	Publisher EventPublisher
	Now       func() time.Time
}

// FraudAnalyzer scores settled transactions and raises alerts for high-risk ones.
type FraudAnalyzer struct {
	logger    *zap.Logger
	store     repositories.RiskAssessmentStore
	publisher EventPublisher
	now       func() time.Time
}

func NewFraudAnalyzer(cfg FraudAnalyzerConfig) *FraudAnalyzer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &FraudAnalyzer{logger: cfg.Logger, store: cfg.Store, publisher: cfg.Publisher, now: now}
}

// Analyze persists an assessment when the score is positive and publishes an alert when it is high risk.
// It is safe to repeat for the same event: the store keeps the first assessment.
func (a *FraudAnalyzer) Analyze(ctx context.Context, event models.TransactionSettledData) (models.RiskAssessment, bool, error) {
	assessment, ok := fraud.Assess(event, a.now())
	if !ok {
		a.logger.Debug("transaction_not_risky", zap.String(pkg.TransactionId, event.TransactionID))
		return models.RiskAssessment{}, false, nil
	}

	if err := a.store.Save(ctx, assessment); err != nil {
		return assessment, true, fmt.Errorf("persist assessment: %w", err)
	}
	observability.Assessments.WithLabelValues(string(assessment.Status)).Inc()
	a.logger.Info("risk_assessment_recorded",
		zap.String(pkg.TransactionId, assessment.TransactionID),
		zap.Int("score", assessment.Score),
		zap.String("status", string(assessment.Status)),
		zap.Strings("alerts", assessment.Alerts))

	if assessment.Status != models.RiskHigh {
		return assessment, true, nil
	}
	alert := models.FraudAlertTriggeredData{
		TransactionID: assessment.TransactionID,
		RiskScore:     assessment.Score,
		Alerts:        assessment.Alerts,
		Amount:        assessment.Amount,
		Currency:      assessment.Currency,
		DetectedAt:    assessment.DetectedAt,
	}
	if err := a.publisher.Publish(ctx, pkg.EventFraudAlert, models.TransactionSubject(assessment.TransactionID), alert); err != nil {
		return assessment, true, fmt.Errorf("publish fraud alert: %w", err)
	}
	observability.AlertsPublished.Inc()
	a.logger.Warn("fraud_alert_triggered",
		zap.String(pkg.TransactionId, assessment.TransactionID),
		zap.Int("score", assessment.Score))
	return assessment, true, nil
}
