package repositories

import (
	"context"
	"fmt"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/database"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"go.uber.org/zap"
)

type PostgresRiskAssessmentStore struct {
	logger *zap.Logger
	db     *database.DB
}

func NewPostgresRiskAssessmentStore(logger *zap.Logger, db *database.DB) *PostgresRiskAssessmentStore {
	return &PostgresRiskAssessmentStore{logger: logger, db: db}
}

// Save records an assessment once; a repeated transaction id is ignored.
func (s *PostgresRiskAssessmentStore) Save(ctx context.Context, a models.RiskAssessment) error {
	alerts := a.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO risk_assessments (transaction_id, score, alerts, amount, currency, detected_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING`,
		a.TransactionID, a.Score, alerts, a.Amount, a.Currency, a.DetectedAt, string(a.Status))
	if err != nil {
		return fmt.Errorf("save risk assessment %s: %w", a.TransactionID, pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	return nil
}

func (s *PostgresRiskAssessmentStore) ListByStatus(ctx context.Context, status models.RiskStatus, limit int) ([]models.RiskAssessment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT transaction_id, score, alerts, amount, currency, detected_at, status
		FROM risk_assessments WHERE status = $1
		ORDER BY detected_at DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list risk assessments: %w", pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	defer rows.Close()

	var out []models.RiskAssessment
	for rows.Next() {
		var (
			a  models.RiskAssessment
			st string
		)
		if err := rows.Scan(&a.TransactionID, &a.Score, &a.Alerts, &a.Amount, &a.Currency, &a.DetectedAt, &st); err != nil {
			return nil, fmt.Errorf("scan risk assessment: %w", err)
		}
		a.Status = models.RiskStatus(st)
		out = append(out, a)
	}
	return out, rows.Err()
}
