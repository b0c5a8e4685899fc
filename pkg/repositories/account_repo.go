package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/database"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"go.uber.org/zap"
)

const accountColumns = `card_number, holder_name, balance, is_active, expires_at, updated_at, version`

const upsertAccountSQL = `
	INSERT INTO accounts (card_number, holder_name, balance, is_active, expires_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (card_number) DO UPDATE
	SET holder_name = EXCLUDED.holder_name,
	    balance     = EXCLUDED.balance,
	    is_active   = EXCLUDED.is_active,
	    expires_at  = EXCLUDED.expires_at,
	    updated_at  = EXCLUDED.updated_at,
	    version     = accounts.version + 1`

// updateAccountSQL only applies when the row still carries the version the caller read.
const updateAccountSQL = `
	UPDATE accounts
	SET balance = $2, updated_at = $3, version = version + 1
	WHERE card_number = $1 AND version = $4`

// PostgresAccountStore reads accounts from the primary so balances are never stale.
type PostgresAccountStore struct {
	logger *zap.Logger
	db     *database.DB
}

func NewPostgresAccountStore(logger *zap.Logger, db *database.DB) *PostgresAccountStore {
	return &PostgresAccountStore{logger: logger, db: db}
}

func (s *PostgresAccountStore) FindByIdentifier(ctx context.Context, cardNumber string) (models.Account, bool, error) {
	a, err := scanAccount(s.db.QueryRowPrimary(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE card_number = $1`, cardNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, false, nil
	}
	if err != nil {
		return models.Account{}, false, fmt.Errorf("find account: %w", pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	return a, true, nil
}

// List returns every card ordered by card number.
func (s *PostgresAccountStore) List(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY card_number`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Save upserts the account unconditionally. Use it for provisioning, not for settlement.
func (s *PostgresAccountStore) Save(ctx context.Context, account models.Account) error {
	if _, err := s.db.Exec(ctx, upsertAccountSQL, accountArgs(account)...); err != nil {
		return fmt.Errorf("save account %s: %w", account.Masked(), pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
	}
	return nil
}

// SaveAll writes the new balances of existing accounts in one transaction.
// Rows are locked in card order and every update is conditional on the version
// read by the caller, so a concurrent writer on another replica makes the whole
// batch fail with ErrStaleAccount instead of being overwritten.
func (s *PostgresAccountStore) SaveAll(ctx context.Context, accounts ...models.Account) error {
	ordered := sortedByCard(accounts)
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, a := range ordered {
			tag, err := tx.Exec(ctx, updateAccountSQL, a.CardNumber, a.Balance, a.UpdatedAt, a.Version)
			if err != nil {
				return fmt.Errorf("save account %s: %w", a.Masked(), pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s at version %d", ErrStaleAccount, a.Masked(), a.Version)
			}
		}
		return nil
	})
}

// Provision upserts accounts in one transaction, e.g. when seeding test cards.
func (s *PostgresAccountStore) Provision(ctx context.Context, accounts ...models.Account) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, a := range sortedByCard(accounts) {
			if _, err := tx.Exec(ctx, upsertAccountSQL, accountArgs(a)...); err != nil {
				return fmt.Errorf("provision account %s: %w", a.Masked(), pkg.HandleSQLError(pkg.TraceIDFrom(ctx), s.logger, err))
			}
		}
		return nil
	})
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.CardNumber, &a.HolderName, &a.Balance, &a.IsActive, &a.ExpiresAt, &a.UpdatedAt, &a.Version)
	return a, err
}

func sortedByCard(accounts []models.Account) []models.Account {
	ordered := make([]models.Account, len(accounts))
	copy(ordered, accounts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CardNumber < ordered[j].CardNumber })
	return ordered
}

func accountArgs(a models.Account) []any {
	return []any{a.CardNumber, a.HolderName, a.Balance, a.IsActive, a.ExpiresAt, a.UpdatedAt}
}
