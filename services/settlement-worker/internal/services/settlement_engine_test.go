package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	cardA       = "4111111111111111"
	cardB       = "5555555555554444"
	cardBlocked = "4000000000000002"
	cardExpired = "4000000000000069"
)

var fixedNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func account(card string, balance string) models.Account {
	return models.Account{
		CardNumber: card,
		HolderName: "Holder " + card[len(card)-4:],
		Balance:    decimal.RequireFromString(balance),
		IsActive:   true,
		ExpiresAt:  fixedNow.AddDate(1, 0, 0),
	}
}

func newTestEngine(accounts repositories.AccountStore, txs repositories.TransactionStore) *SettlementEngine {
	return NewSettlementEngine(SettlementEngineConfig{
		Logger:       zap.NewNop(),
		Accounts:     accounts,
		Transactions: txs,
		Now:          func() time.Time { return fixedNow },
	})
}

func balanceOf(t *testing.T, store repositories.AccountStore, card string) string {
	t.Helper()
	a, ok, err := store.FindByIdentifier(context.Background(), card)
	require.NoError(t, err)
	require.True(t, ok)
	return a.Balance.StringFixed(2)
}

func transfer(from, to, amount string) models.TransferRequest {
	return models.TransferRequest{
		ID:             "req-" + amount,
		FromCardNumber: from,
		ToCardNumber:   to,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
	}
}

func TestTransfer_SettlesAndRecordsBalances(t *testing.T) {
	// Arrange
	accounts := repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500"))
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(accounts, txs)

	// Act
	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	// Assert
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, models.StatusApproved, outcome.Status)
	assert.Equal(t, models.OutcomeSettled, outcome.Kind())
	assert.Equal(t, "successfully transferred 100.00 USD from ****-****-****-1111 to ****-****-****-4444", outcome.Message)
	require.NotNil(t, outcome.FromBalance)
	require.NotNil(t, outcome.ToBalance)
	assert.Equal(t, "900.00", outcome.FromBalance.StringFixed(2))
	assert.Equal(t, "600.00", outcome.ToBalance.StringFixed(2))
	assert.Equal(t, "900.00", balanceOf(t, accounts, cardA))
	assert.Equal(t, "600.00", balanceOf(t, accounts, cardB))
	assert.NotEmpty(t, outcome.TransactionID)
	assert.Equal(t, "req-100", outcome.RequestID)

	recorded := txs.All()
	require.Len(t, recorded, 1)
	assert.Equal(t, outcome.TransactionID, recorded[0].TransactionID)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	accounts := repositories.NewMemoryAccountStore(account(cardA, "50"), account(cardB, "500"))
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(accounts, txs)

	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, models.StatusInsufficientFunds, outcome.Status)
	assert.Equal(t, "insufficient funds, available balance: 50.00", outcome.Message)
	require.NotNil(t, outcome.FromBalance)
	assert.Equal(t, "50.00", outcome.FromBalance.StringFixed(2))
	assert.Nil(t, outcome.ToBalance)
	assert.Equal(t, "50.00", balanceOf(t, accounts, cardA))
	assert.Equal(t, "500.00", balanceOf(t, accounts, cardB))
	assert.Len(t, txs.All(), 1)
}

func TestTransfer_DeclinesInCheckOrder(t *testing.T) {
	blocked := account(cardBlocked, "1000")
	blocked.IsActive = false
	expired := account(cardExpired, "1000")
	expired.ExpiresAt = fixedNow
	// Blocked and expired at once: blocked is checked first.
	blockedAndExpired := account("4000000000000077", "1000")
	blockedAndExpired.IsActive = false
	blockedAndExpired.ExpiresAt = fixedNow.AddDate(-1, 0, 0)

	cases := []struct {
		name    string
		req     models.TransferRequest
		status  models.AuthorizationStatus
		message string
	}{
		{"zero amount beats unknown cards", transfer("0000", "0001", "0"), models.StatusInvalidAmount, "transfer amount must be greater than zero"},
		{"negative amount", transfer(cardA, cardB, "-5"), models.StatusInvalidAmount, "transfer amount must be greater than zero"},
		{"unknown source", transfer("4999999999999999", cardB, "10"), models.StatusInvalidSourceCard, "source card not found"},
		{"blocked source", transfer(cardBlocked, cardB, "10"), models.StatusCardBlocked, "source card is blocked"},
		{"blocked before expired", transfer("4000000000000077", cardB, "10"), models.StatusCardBlocked, "source card is blocked"},
		{"expired source", transfer(cardExpired, cardB, "10"), models.StatusExpiredCard, "source card has expired"},
		{"funds before destination", transfer(cardA, "4999999999999999", "5000"), models.StatusInsufficientFunds, "insufficient funds, available balance: 1000.00"},
		{"unknown destination", transfer(cardA, "4999999999999999", "10"), models.StatusInvalidDestinationCard, "destination card not found"},
		{"blocked destination", transfer(cardA, cardBlocked, "10"), models.StatusDestinationBlocked, "destination card is blocked"},
		{"same card", transfer(cardA, cardA, "10"), models.StatusInvalidTransfer, "cannot transfer money to the same card"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			accounts := repositories.NewMemoryAccountStore(
				account(cardA, "1000"), account(cardB, "500"), blocked, expired, blockedAndExpired)
			txs := repositories.NewMemoryTransactionStore()
			engine := newTestEngine(accounts, txs)

			// Act
			outcome, err := engine.Transfer(context.Background(), tc.req)

			// Assert
			require.NoError(t, err)
			assert.False(t, outcome.Success)
			assert.Equal(t, tc.status, outcome.Status)
			assert.Equal(t, tc.message, outcome.Message)
			assert.Equal(t, models.OutcomeDeclined, outcome.Kind())
			assert.Len(t, txs.All(), 1)
			assert.Equal(t, "1000.00", balanceOf(t, accounts, cardA))
			assert.Equal(t, "500.00", balanceOf(t, accounts, cardB))
		})
	}
}

func TestTransfer_ConcurrentDrainNeverOverdraws(t *testing.T) {
	// Arrange
	accounts := repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "0"))
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(accounts, txs)

	const workers = 50
	var wg sync.WaitGroup
	results := make(chan models.SettlementOutcome, workers*2)

	// Act: transfers in both directions contend on the same pair of locks.
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			req := transfer(cardA, cardB, "30")
			req.ID = fmt.Sprintf("a-%d", i)
			out, err := engine.Transfer(context.Background(), req)
			assert.NoError(t, err)
			results <- out
		}(i)
		go func(i int) {
			defer wg.Done()
			req := transfer(cardB, cardA, "1")
			req.ID = fmt.Sprintf("b-%d", i)
			out, err := engine.Transfer(context.Background(), req)
			assert.NoError(t, err)
			results <- out
		}(i)
	}
	wg.Wait()
	close(results)

	// Assert
	a := decimal.RequireFromString(balanceOf(t, accounts, cardA))
	b := decimal.RequireFromString(balanceOf(t, accounts, cardB))
	assert.False(t, a.IsNegative())
	assert.False(t, b.IsNegative())
	assert.True(t, a.Add(b).Equal(decimal.NewFromInt(1000)), "money is conserved")

	settledAB, settledBA := 0, 0
	for out := range results {
		if !out.Success {
			continue
		}
		if out.FromCardMasked == "****-****-****-1111" {
			settledAB++
		} else {
			settledBA++
		}
	}
	expectedA := decimal.NewFromInt(1000).Sub(decimal.NewFromInt(int64(30 * settledAB))).Add(decimal.NewFromInt(int64(settledBA)))
	assert.True(t, a.Equal(expectedA))
	assert.Len(t, txs.All(), workers*2, "one outcome per call")
}

// slowReadStore widens the gap between reading balances and writing them back.
type slowReadStore struct {
	inner      *repositories.MemoryAccountStore
	delay      time.Duration
	staleSaves bool

	mu       sync.Mutex
	saveAlls int
}

func (s *slowReadStore) FindByIdentifier(ctx context.Context, card string) (models.Account, bool, error) {
	time.Sleep(s.delay)
	return s.inner.FindByIdentifier(ctx, card)
}

func (s *slowReadStore) Save(ctx context.Context, a models.Account) error {
	return s.inner.Save(ctx, a)
}

func (s *slowReadStore) SaveAll(ctx context.Context, accounts ...models.Account) error {
	s.mu.Lock()
	s.saveAlls++
	s.mu.Unlock()
	if s.staleSaves {
		return fmt.Errorf("%w: forced", repositories.ErrStaleAccount)
	}
	return s.inner.SaveAll(ctx, accounts...)
}

func TestTransfer_EnginesSharingAStoreConserveBalances(t *testing.T) {
	// Arrange: each engine has its own in-process locks, like two worker replicas.
	const cardC = "6011111111111117"
	store := &slowReadStore{
		inner: repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500"), account(cardC, "0")),
		delay: 20 * time.Millisecond,
	}
	txs := repositories.NewMemoryTransactionStore()
	first := newTestEngine(store, txs)
	second := newTestEngine(store, txs)

	var wg sync.WaitGroup
	settle := func(engine *SettlementEngine, req models.TransferRequest) {
		defer wg.Done()
		for attempt := 0; attempt < 5; attempt++ {
			out, err := engine.Transfer(context.Background(), req)
			if err == nil {
				assert.True(t, out.Success, out.Message)
				return
			}
			assert.ErrorIs(t, err, ErrSettlementFault)
		}
		t.Errorf("transfer %s never settled", req.ID)
	}

	// Act: both transfers touch cardB.
	wg.Add(2)
	go settle(first, transfer(cardA, cardB, "100"))
	go settle(second, transfer(cardB, cardC, "200"))
	wg.Wait()

	// Assert
	assert.Equal(t, "900.00", balanceOf(t, store, cardA))
	assert.Equal(t, "400.00", balanceOf(t, store, cardB))
	assert.Equal(t, "200.00", balanceOf(t, store, cardC))
}

func TestTransfer_PersistentVersionConflictIsFault(t *testing.T) {
	store := &slowReadStore{
		inner:      repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500")),
		staleSaves: true,
	}
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(store, txs)

	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	require.ErrorIs(t, err, ErrSettlementFault)
	assert.ErrorIs(t, err, repositories.ErrStaleAccount)
	assert.Equal(t, models.StatusSystemError, outcome.Status)
	assert.Equal(t, staleAttempts, store.saveAlls)
	assert.Equal(t, "1000.00", balanceOf(t, store, cardA))
	assert.Len(t, txs.All(), 1, "one outcome per call")
}

// saveOnlyStore lacks SaveAll so the engine falls back to two saves.
type saveOnlyStore struct {
	mu       sync.Mutex
	inner    *repositories.MemoryAccountStore
	failCard string
	findErr  error
	panicOn  string
	saves    int
}

func (s *saveOnlyStore) FindByIdentifier(ctx context.Context, card string) (models.Account, bool, error) {
	if s.panicOn == card {
		panic("corrupt row")
	}
	if s.findErr != nil {
		return models.Account{}, false, s.findErr
	}
	return s.inner.FindByIdentifier(ctx, card)
}

func (s *saveOnlyStore) Save(ctx context.Context, a models.Account) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	if a.CardNumber == s.failCard {
		return errors.New("disk full")
	}
	return s.inner.Save(ctx, a)
}

func TestTransfer_TwoSavesOnSuccess(t *testing.T) {
	store := &saveOnlyStore{inner: repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500"))}
	engine := newTestEngine(store, repositories.NewMemoryTransactionStore())

	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 2, store.saves)
}

func TestTransfer_CreditFailureCompensatesSource(t *testing.T) {
	// Arrange
	store := &saveOnlyStore{
		inner:    repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500")),
		failCard: cardB,
	}
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(store, txs)

	// Act
	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSettlementFault)
	assert.Equal(t, models.StatusSystemError, outcome.Status)
	assert.Equal(t, models.OutcomeSystemError, outcome.Kind())
	assert.Equal(t, "transfer failed: credit destination: disk full", outcome.Message)
	assert.Nil(t, outcome.FromBalance)
	assert.Equal(t, "1000.00", balanceOf(t, store.inner, cardA))
	assert.Equal(t, "500.00", balanceOf(t, store.inner, cardB))
	assert.Len(t, txs.All(), 1)
}

func TestTransfer_StoreErrorIsFault(t *testing.T) {
	store := &saveOnlyStore{inner: repositories.NewMemoryAccountStore(), findErr: errors.New("connection reset")}
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(store, txs)

	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	assert.ErrorIs(t, err, ErrSettlementFault)
	assert.Equal(t, "transfer failed: load source account: connection reset", outcome.Message)
	assert.Len(t, txs.All(), 1)
	assert.Equal(t, 0, store.saves)
}

func TestTransfer_PanicBecomesSystemError(t *testing.T) {
	store := &saveOnlyStore{
		inner:   repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500")),
		panicOn: cardB,
	}
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(store, txs)

	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	assert.ErrorIs(t, err, ErrSettlementFault)
	assert.Equal(t, models.StatusSystemError, outcome.Status)
	assert.Equal(t, "transfer failed: panic: corrupt row", outcome.Message)
	assert.Len(t, txs.All(), 1)

	// Locks were released on the panic path.
	outcome, err = engine.Transfer(context.Background(), transfer(cardB, cardA, "10"))
	assert.Error(t, err)
	assert.Equal(t, models.StatusSystemError, outcome.Status)
}

func TestTransfer_CancelledBeforeCommitDoesNotMutate(t *testing.T) {
	accounts := repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500"))
	txs := repositories.NewMemoryTransactionStore()
	engine := newTestEngine(accounts, txs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := engine.Transfer(ctx, transfer(cardA, cardB, "100"))

	assert.ErrorIs(t, err, ErrSettlementFault)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusSystemError, outcome.Status)
	assert.Equal(t, "1000.00", balanceOf(t, accounts, cardA))
	assert.Len(t, txs.All(), 1, "outcome is recorded despite cancellation")
}

type failingTransactionStore struct {
	*repositories.MemoryTransactionStore
	appends int
}

func (f *failingTransactionStore) Append(context.Context, models.SettlementOutcome) error {
	f.appends++
	return errors.New("log unavailable")
}

func TestTransfer_AppendFailureAfterCommitIsNotAnError(t *testing.T) {
	accounts := repositories.NewMemoryAccountStore(account(cardA, "1000"), account(cardB, "500"))
	txs := &failingTransactionStore{MemoryTransactionStore: repositories.NewMemoryTransactionStore()}
	engine := newTestEngine(accounts, txs)

	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, txs.appends)
	assert.Equal(t, "900.00", balanceOf(t, accounts, cardA))
}

func TestTransfer_AppendFailureOnDeclineIsFault(t *testing.T) {
	accounts := repositories.NewMemoryAccountStore(account(cardA, "50"), account(cardB, "500"))
	txs := &failingTransactionStore{MemoryTransactionStore: repositories.NewMemoryTransactionStore()}
	engine := newTestEngine(accounts, txs)

	outcome, err := engine.Transfer(context.Background(), transfer(cardA, cardB, "100"))

	assert.ErrorIs(t, err, ErrSettlementFault)
	assert.Equal(t, models.StatusInsufficientFunds, outcome.Status)
	assert.Equal(t, 1, txs.appends)
}
