package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/locks"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"go.uber.org/zap"
)

var (
	// ErrSettlementFault marks a transient or invariant failure. Callers retry on it.
	ErrSettlementFault = errors.New("settlement fault")
	ErrNegativeBalance = errors.New("balance would become negative")
)

// staleAttempts bounds how often settle re-reads accounts that another replica changed under it.
const staleAttempts = 3

// AccountLocker serializes work on a set of account identifiers.
type AccountLocker interface {
	LockAll(keys ...string) func()
}

// Settler is what the pipeline needs from the engine.
type Settler interface {
	Transfer(ctx context.Context, req models.TransferRequest) (models.SettlementOutcome, error)
}

type SettlementEngineConfig struct {
	Logger       *zap.Logger
	Accounts     repositories.AccountStore
	Transactions repositories.TransactionStore
	Locks        AccountLocker
	Now          func() time.Time
	NewID        func() string
}

// SettlementEngine moves money between two cards and records exactly one outcome per call.
type SettlementEngine struct {
	logger       *zap.Logger
	accounts     repositories.AccountStore
	transactions repositories.TransactionStore
	locks        AccountLocker
	now          func() time.Time
	newID        func() string
}

func NewSettlementEngine(cfg SettlementEngineConfig) *SettlementEngine {
	if cfg.Accounts == nil || cfg.Transactions == nil {
		cfg.Logger.Fatal("settlement_engine_missing_store")
	}
	e := &SettlementEngine{
		logger:       cfg.Logger,
		accounts:     cfg.Accounts,
		transactions: cfg.Transactions,
		locks:        cfg.Locks,
		now:          cfg.Now,
		newID:        cfg.NewID,
	}
	if e.locks == nil {
		e.locks = locks.NewKeyedMutex()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// Transfer settles req. Declines come back as an unsuccessful outcome with a nil error.
// A balance write that loses a race with another writer is re-read and retried a few times.
// A fault is recorded as SYSTEM_ERROR and returned wrapped in ErrSettlementFault.
// Once both balances are written no error is returned.
func (e *SettlementEngine) Transfer(ctx context.Context, req models.TransferRequest) (models.SettlementOutcome, error) {
	base := models.SettlementOutcome{
		TransactionID:  e.newID(),
		RequestID:      req.ID,
		FromCardMasked: models.MaskCardNumber(req.FromCardNumber),
		ToCardMasked:   models.MaskCardNumber(req.ToCardNumber),
		Amount:         req.Amount,
		Currency:       req.Currency,
		SubmittedAt:    e.now().UTC(),
	}
	log := e.logger.With(
		zap.String(pkg.TransactionId, base.TransactionID),
		zap.String(pkg.RequestId, req.ID))

	var (
		outcome   models.SettlementOutcome
		committed bool
		fault     error
	)
	for attempt := 1; ; attempt++ {
		outcome, committed, fault = e.settle(ctx, req, base)
		if !errors.Is(fault, repositories.ErrStaleAccount) || attempt == staleAttempts {
			break
		}
		log.Warn("account_version_conflict", zap.Int("attempt", attempt), zap.Error(fault))
	}
	outcome.SettledAt = e.now().UTC()

	if fault != nil && committed {
		log.Error("fault_after_commit_ignored", zap.Error(fault))
		fault = nil
	}
	if fault != nil {
		outcome.Success = false
		outcome.Status = models.StatusSystemError
		outcome.Message = "transfer failed: " + fault.Error()
		outcome.FromBalance = nil
		outcome.ToBalance = nil
	}

	// Recording must survive a cancelled delivery context.
	appendErr := e.transactions.Append(context.WithoutCancel(ctx), outcome)

	switch {
	case committed:
		if appendErr != nil {
			log.Error("outcome_append_failed_after_commit", zap.Error(appendErr))
		}
		log.Info("transfer_settled",
			zap.String("amount", outcome.Amount.StringFixed(2)),
			zap.String("currency", outcome.Currency))
		return outcome, nil
	case fault != nil:
		err := fmt.Errorf("%w: %w", ErrSettlementFault, fault)
		if appendErr != nil {
			err = errors.Join(err, fmt.Errorf("append outcome: %w", appendErr))
		}
		log.Error("transfer_fault", zap.Error(err))
		return outcome, err
	default:
		if appendErr != nil {
			log.Error("outcome_append_failed", zap.Error(appendErr))
			return outcome, fmt.Errorf("%w: append outcome: %w", ErrSettlementFault, appendErr)
		}
		log.Info("transfer_declined",
			zap.String("status", string(outcome.Status)),
			zap.String("reason", outcome.Message))
		return outcome, nil
	}
}

func decline(out models.SettlementOutcome, status models.AuthorizationStatus, message string) models.SettlementOutcome {
	out.Success = false
	out.Status = status
	out.Message = message
	return out
}

// settle runs the checks and the mutation under both account locks.
func (e *SettlementEngine) settle(ctx context.Context, req models.TransferRequest, out models.SettlementOutcome) (result models.SettlementOutcome, committed bool, fault error) {
	result = out
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("panic: %v", r)
		}
	}()

	if !req.Amount.IsPositive() {
		return decline(out, models.StatusInvalidAmount, "transfer amount must be greater than zero"), false, nil
	}

	unlock := e.locks.LockAll(req.FromCardNumber, req.ToCardNumber)
	defer unlock()

	now := e.now()
	from, found, err := e.accounts.FindByIdentifier(ctx, req.FromCardNumber)
	if err != nil {
		return out, false, fmt.Errorf("load source account: %w", err)
	}
	switch {
	case !found:
		return decline(out, models.StatusInvalidSourceCard, "source card not found"), false, nil
	case !from.IsActive:
		return decline(out, models.StatusCardBlocked, "source card is blocked"), false, nil
	case from.IsExpired(now):
		return decline(out, models.StatusExpiredCard, "source card has expired"), false, nil
	case from.Balance.LessThan(req.Amount):
		available := from.Balance
		out.FromBalance = &available
		return decline(out, models.StatusInsufficientFunds,
			"insufficient funds, available balance: "+available.StringFixed(2)), false, nil
	}

	to, found, err := e.accounts.FindByIdentifier(ctx, req.ToCardNumber)
	if err != nil {
		return out, false, fmt.Errorf("load destination account: %w", err)
	}
	switch {
	case !found:
		return decline(out, models.StatusInvalidDestinationCard, "destination card not found"), false, nil
	case !to.IsActive:
		return decline(out, models.StatusDestinationBlocked, "destination card is blocked"), false, nil
	case from.CardNumber == to.CardNumber:
		return decline(out, models.StatusInvalidTransfer, "cannot transfer money to the same card"), false, nil
	}

	debited := from
	debited.Balance = from.Balance.Sub(req.Amount)
	debited.UpdatedAt = now.UTC()
	credited := to
	credited.Balance = to.Balance.Add(req.Amount)
	credited.UpdatedAt = now.UTC()
	if debited.Balance.IsNegative() || credited.Balance.IsNegative() {
		return out, false, fmt.Errorf("%w: source %s, destination %s",
			ErrNegativeBalance, debited.Balance.StringFixed(2), credited.Balance.StringFixed(2))
	}

	if err := ctx.Err(); err != nil {
		return out, false, fmt.Errorf("cancelled before commit: %w", err)
	}
	if err := e.persist(context.WithoutCancel(ctx), from, debited, credited); err != nil {
		return out, false, err
	}

	fromBalance, toBalance := debited.Balance, credited.Balance
	out.Success = true
	out.Status = models.StatusApproved
	out.Message = fmt.Sprintf("successfully transferred %s %s from %s to %s",
		req.Amount.StringFixed(2), req.Currency, from.Masked(), to.Masked())
	out.FromBalance = &fromBalance
	out.ToBalance = &toBalance
	return out, true, nil
}

// persist writes both balances atomically when the store allows it, otherwise in two
// saves with the source restored if the credit fails.
func (e *SettlementEngine) persist(ctx context.Context, original, debited, credited models.Account) error {
	if batch, ok := e.accounts.(repositories.AccountBatchSaver); ok {
		if err := batch.SaveAll(ctx, debited, credited); err != nil {
			return fmt.Errorf("persist balances: %w", err)
		}
		return nil
	}

	if err := e.accounts.Save(ctx, debited); err != nil {
		return fmt.Errorf("debit source: %w", err)
	}
	if err := e.accounts.Save(ctx, credited); err != nil {
		creditErr := fmt.Errorf("credit destination: %w", err)
		if cerr := e.accounts.Save(ctx, original); cerr != nil {
			e.logger.Error("source_compensation_failed",
				zap.String("card", original.Masked()),
				zap.String("expected_balance", original.Balance.StringFixed(2)),
				zap.Error(cerr))
			return errors.Join(creditErr, fmt.Errorf("compensate source: %w", cerr))
		}
		return creditErr
	}
	return nil
}
