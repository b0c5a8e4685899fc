package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/database"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const outcomeColumns = `transaction_id, request_id, success, authorization_status, message,
	from_card_masked, to_card_masked, amount, currency, from_balance, to_balance, submitted_at, settled_at`

const defaultListLimit = 100

type PostgresTransactionStore struct {
	logger *zap.Logger
	db     *database.DB
}

func NewPostgresTransactionStore(logger *zap.Logger, db *database.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{logger: logger, db: db}
}

func (s *PostgresTransactionStore) Append(ctx context.Context, o models.SettlementOutcome) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO processed_transactions (`+outcomeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (transaction_id) DO NOTHING`,
		o.TransactionID, o.RequestID, o.Success, string(o.Status), o.Message,
		o.FromCardMasked, o.ToCardMasked, o.Amount, o.Currency,
		nullDecimal(o.FromBalance), nullDecimal(o.ToBalance), o.SubmittedAt, o.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("append outcome %s: %w", o.TransactionID, pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	return nil
}

func (s *PostgresTransactionStore) FindByTransactionID(ctx context.Context, transactionID string) (models.SettlementOutcome, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT `+outcomeColumns+` FROM processed_transactions WHERE transaction_id = $1`, transactionID)
	o, err := scanOutcome(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SettlementOutcome{}, false, nil
	}
	if err != nil {
		return models.SettlementOutcome{}, false, fmt.Errorf("find outcome: %w", pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	return o, true, nil
}

func (s *PostgresTransactionStore) ListByRequestID(ctx context.Context, requestID string) ([]models.SettlementOutcome, error) {
	return s.list(ctx, `SELECT `+outcomeColumns+` FROM processed_transactions
		WHERE request_id = $1 ORDER BY settled_at`, requestID)
}

// ListRecent returns the newest outcomes first.
func (s *PostgresTransactionStore) ListRecent(ctx context.Context, limit int) ([]models.SettlementOutcome, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.list(ctx, `SELECT `+outcomeColumns+` FROM processed_transactions
		ORDER BY settled_at DESC LIMIT $1`, limit)
}

func (s *PostgresTransactionStore) list(ctx context.Context, query string, args ...any) ([]models.SettlementOutcome, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	defer rows.Close()

	var out []models.SettlementOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOutcome(row pgx.Row) (models.SettlementOutcome, error) {
	var (
		o           models.SettlementOutcome
		requestID   *string
		status      string
		fromBalance decimal.NullDecimal
		toBalance   decimal.NullDecimal
	)
	err := row.Scan(&o.TransactionID, &requestID, &o.Success, &status, &o.Message,
		&o.FromCardMasked, &o.ToCardMasked, &o.Amount, &o.Currency,
		&fromBalance, &toBalance, &o.SubmittedAt, &o.SettledAt)
	if err != nil {
		return o, err
	}
	if requestID != nil {
		o.RequestID = *requestID
	}
	o.Status = models.AuthorizationStatus(status)
	if fromBalance.Valid {
		o.FromBalance = &fromBalance.Decimal
	}
	if toBalance.Valid {
		o.ToBalance = &toBalance.Decimal
	}
	return o, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
