package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// MemoryRepository is an in-process Repository. Every read returns a copy, so
// callers can only change stored state through the write methods.
type MemoryRepository struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]domain.Account
	accountKeys  map[string]uuid.UUID
	transactions []domain.Transaction
	txIndex      map[uuid.UUID]int
	reversals    map[uuid.UUID]uuid.UUID
	rules        map[uuid.UUID]domain.RecurringTransferRule
	maturities   map[uuid.UUID]domain.ProductMaturity
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:    make(map[uuid.UUID]domain.Account),
		accountKeys: make(map[string]uuid.UUID),
		txIndex:     make(map[uuid.UUID]int),
		reversals:   make(map[uuid.UUID]uuid.UUID),
		rules:       make(map[uuid.UUID]domain.RecurringTransferRule),
		maturities:  make(map[uuid.UUID]domain.ProductMaturity),
	}
}

func accountKey(bankCode, accountNumber string) string {
	return bankCode + "/" + accountNumber
}

func (r *MemoryRepository) CreateAccount(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := accountKey(account.BankCode, account.AccountNumber)
	if _, exists := r.accountKeys[key]; exists {
		return fmt.Errorf("%w: account number %s already exists for bank %s", domain.ErrConflict, account.AccountNumber, account.BankCode)
	}
	if _, exists := r.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account %s already exists", domain.ErrConflict, account.ID)
	}
	account.Version = 1
	r.accounts[account.ID] = *account
	r.accountKeys[key] = account.ID
	return nil
}

func (r *MemoryRepository) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return &account, nil
}

func (r *MemoryRepository) ListAccountsByOwner(_ context.Context, ownerID string) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Account, 0)
	for _, account := range r.accounts {
		if account.OwnerID == ownerID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Commit validates every version before applying anything, so a conflict leaves
// the store untouched.
func (r *MemoryRepository) Commit(_ context.Context, entry LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, next := range entry.Accounts {
		current, ok := r.accounts[next.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, next.ID)
		}
		if current.Version != next.Version {
			return fmt.Errorf("%w: account %s was modified concurrently", domain.ErrConflict, next.ID)
		}
		if next.Balance.IsNegative() {
			return fmt.Errorf("%w: account %s", domain.ErrInsufficientBalance, next.ID)
		}
	}

	tx := entry.Transaction
	if tx != nil {
		if _, exists := r.txIndex[tx.ID]; exists {
			return fmt.Errorf("%w: transaction %s already recorded", domain.ErrConflict, tx.ID)
		}
		if tx.ReversesTransactionID != nil {
			if _, reversed := r.reversals[*tx.ReversesTransactionID]; reversed {
				return fmt.Errorf("%w: transaction %s already reversed", domain.ErrConflict, *tx.ReversesTransactionID)
			}
		}
	}

	for _, next := range entry.Accounts {
		next.Version++
		r.accounts[next.ID] = next
	}
	if tx != nil {
		r.txIndex[tx.ID] = len(r.transactions)
		r.transactions = append(r.transactions, *tx)
		if tx.ReversesTransactionID != nil {
			r.reversals[*tx.ReversesTransactionID] = tx.ID
		}
	}
	return nil
}

func (r *MemoryRepository) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.txIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}
	tx := r.transactions[idx]
	return &tx, nil
}

func (r *MemoryRepository) ListTransactionsByAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	limit, offset = NormalizePage(limit, offset)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	skipped := 0
	for i := len(r.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		tx := r.transactions[i]
		if !tx.Involves(accountID) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r *MemoryRepository) FindReversal(_ context.Context, originalID uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reversalID, ok := r.reversals[originalID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	tx := r.transactions[r.txIndex[reversalID]]
	return &tx, nil
}

func (r *MemoryRepository) CreateRule(_ context.Context, rule *domain.RecurringTransferRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("%w: rule %s already exists", domain.ErrConflict, rule.ID)
	}
	rule.Version = 1
	r.rules[rule.ID] = *rule
	return nil
}

func (r *MemoryRepository) GetRule(_ context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	return &rule, nil
}

func (r *MemoryRepository) SaveRule(_ context.Context, rule *domain.RecurringTransferRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rules[rule.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRuleNotFound, rule.ID)
	}
	if current.Version != rule.Version {
		return fmt.Errorf("%w: rule %s was modified concurrently", domain.ErrConflict, rule.ID)
	}
	rule.Version++
	r.rules[rule.ID] = *rule
	return nil
}

func (r *MemoryRepository) ListRulesByOwner(_ context.Context, ownerID string) ([]domain.RecurringTransferRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RecurringTransferRule, 0)
	for _, rule := range r.rules {
		if rule.OwnerID == ownerID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) FindDueRules(_ context.Context, asOf domain.Date) ([]domain.RecurringTransferRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RecurringTransferRule, 0)
	for _, rule := range r.rules {
		if rule.IsDue(asOf) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextExecutionDate.Equal(out[j].NextExecutionDate) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].NextExecutionDate.Before(out[j].NextExecutionDate)
	})
	return out, nil
}

func (r *MemoryRepository) CreateMaturity(_ context.Context, maturity *domain.ProductMaturity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.maturities {
		if existing.ProductAccountID == maturity.ProductAccountID && existing.Status == domain.MaturityStatusPending {
			return fmt.Errorf("%w: product account %s already has a pending maturity", domain.ErrConflict, maturity.ProductAccountID)
		}
	}
	maturity.Version = 1
	r.maturities[maturity.ID] = *maturity
	return nil
}

func (r *MemoryRepository) GetMaturity(_ context.Context, id uuid.UUID) (*domain.ProductMaturity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	maturity, ok := r.maturities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMaturityNotFound, id)
	}
	return &maturity, nil
}

func (r *MemoryRepository) SaveMaturity(_ context.Context, maturity *domain.ProductMaturity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.maturities[maturity.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMaturityNotFound, maturity.ID)
	}
	if current.Version != maturity.Version {
		return fmt.Errorf("%w: maturity %s was modified concurrently", domain.ErrConflict, maturity.ID)
	}
	maturity.Version++
	r.maturities[maturity.ID] = *maturity
	return nil
}

func (r *MemoryRepository) ListMaturitiesByOwner(_ context.Context, ownerID string) ([]domain.ProductMaturity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProductMaturity, 0)
	for _, maturity := range r.maturities {
		if maturity.OwnerID == ownerID {
			out = append(out, maturity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaturityDate.Before(out[j].MaturityDate) })
	return out, nil
}

func (r *MemoryRepository) FindDueMaturities(_ context.Context, asOf domain.Date) ([]domain.ProductMaturity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProductMaturity, 0)
	for _, maturity := range r.maturities {
		if maturity.IsDue(asOf) {
			out = append(out, maturity)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaturityDate.Equal(out[j].MaturityDate) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].MaturityDate.Before(out[j].MaturityDate)
	})
	return out, nil
}
