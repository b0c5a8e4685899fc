package repositories

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
)

// MemoryAccountStore keeps accounts in a map. It is safe for concurrent use.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
}

func NewMemoryAccountStore(accounts ...models.Account) *MemoryAccountStore {
	s := &MemoryAccountStore{accounts: make(map[string]models.Account, len(accounts))}
	for _, a := range accounts {
		s.accounts[a.CardNumber] = a
	}
	return s
}

func (s *MemoryAccountStore) FindByIdentifier(_ context.Context, cardNumber string) (models.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[cardNumber]
	return a, ok, nil
}

// List returns every account ordered by card number.
func (s *MemoryAccountStore) List(_ context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardNumber < out[j].CardNumber })
	return out, nil
}

// Save overwrites the account unconditionally.
func (s *MemoryAccountStore) Save(_ context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account.Version = s.accounts[account.CardNumber].Version + 1
	s.accounts[account.CardNumber] = account
	return nil
}

// SaveAll stores every account under one lock, or none of them if any version is stale.
func (s *MemoryAccountStore) SaveAll(_ context.Context, accounts ...models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		stored, ok := s.accounts[a.CardNumber]
		if !ok || stored.Version != a.Version {
			return fmt.Errorf("%w: %s at version %d", ErrStaleAccount, a.Masked(), a.Version)
		}
	}
	for _, a := range accounts {
		a.Version++
		s.accounts[a.CardNumber] = a
	}
	return nil
}

// MemoryTransactionStore keeps outcomes in append order.
type MemoryTransactionStore struct {
	mu       sync.RWMutex
	outcomes []models.SettlementOutcome
	byID     map[string]int
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{byID: make(map[string]int)}
}

func (s *MemoryTransactionStore) Append(_ context.Context, outcome models.SettlementOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[outcome.TransactionID]; exists {
		return nil
	}
	s.byID[outcome.TransactionID] = len(s.outcomes)
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *MemoryTransactionStore) FindByTransactionID(_ context.Context, transactionID string) (models.SettlementOutcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[transactionID]
	if !ok {
		return models.SettlementOutcome{}, false, nil
	}
	return s.outcomes[i], true, nil
}

func (s *MemoryTransactionStore) ListByRequestID(_ context.Context, requestID string) ([]models.SettlementOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SettlementOutcome
	for _, o := range s.outcomes {
		if o.RequestID == requestID {
			out = append(out, o)
		}
	}
	return out, nil
}

// ListRecent returns the newest outcomes first. A non-positive limit returns all.
func (s *MemoryTransactionStore) ListRecent(_ context.Context, limit int) ([]models.SettlementOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.outcomes)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns a copy of every outcome in append order.
func (s *MemoryTransactionStore) All() []models.SettlementOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.outcomes)
}

type MemoryRiskAssessmentStore struct {
	mu          sync.RWMutex
	assessments map[string]models.RiskAssessment
}

func NewMemoryRiskAssessmentStore() *MemoryRiskAssessmentStore {
	return &MemoryRiskAssessmentStore{assessments: make(map[string]models.RiskAssessment)}
}

// Save keeps the first assessment recorded for a transaction.
func (s *MemoryRiskAssessmentStore) Save(_ context.Context, assessment models.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assessments[assessment.TransactionID]; !exists {
		s.assessments[assessment.TransactionID] = assessment
	}
	return nil
}

// ListByStatus returns the newest assessments first. A non-positive limit returns all.
func (s *MemoryRiskAssessmentStore) ListByStatus(_ context.Context, status models.RiskStatus, limit int) ([]models.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RiskAssessment
	for _, a := range s.assessments {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
