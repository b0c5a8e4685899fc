package repositories

import (
	"context"
	"errors"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
)

// ErrStaleAccount means an account changed between the read and the batch write.
// Nothing in the batch was applied and the caller can re-read and retry.
var ErrStaleAccount = errors.New("account modified concurrently")

// AccountStore loads and persists cards. Reads must observe the latest committed write.
type AccountStore interface {
	FindByIdentifier(ctx context.Context, cardNumber string) (models.Account, bool, error)
	Save(ctx context.Context, account models.Account) error
}

// AccountBatchSaver is implemented by stores that can persist several accounts atomically.
// SaveAll fails with ErrStaleAccount when any account's Version no longer matches the store.
type AccountBatchSaver interface {
	SaveAll(ctx context.Context, accounts ...models.Account) error
}

type AccountLister interface {
	List(ctx context.Context) ([]models.Account, error)
}

// TransactionStore is the append-only settlement outcome log.
// Appending an existing transaction id is a no-op.
type TransactionStore interface {
	Append(ctx context.Context, outcome models.SettlementOutcome) error
	FindByTransactionID(ctx context.Context, transactionID string) (models.SettlementOutcome, bool, error)
	ListByRequestID(ctx context.Context, requestID string) ([]models.SettlementOutcome, error)
}

// TransactionLister returns the newest outcomes first. A non-positive limit uses the store default.
type TransactionLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.SettlementOutcome, error)
}

type RiskAssessmentStore interface {
	Save(ctx context.Context, assessment models.RiskAssessment) error
	ListByStatus(ctx context.Context, status models.RiskStatus, limit int) ([]models.RiskAssessment, error)
}
