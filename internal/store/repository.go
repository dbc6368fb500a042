/**
 * @description
 * Storage contracts for the ledger-service. The transfer engine, recurring
 * transfer service and maturity service depend on these interfaces, which are
 * implemented by MemoryRepository (tests, local runs) and PostgresRepository.
 *
 * @notes
 * - Balances are only ever written through Ledger.Commit, which applies the
 *   account states and the transaction record as one atomic unit.
 * - Entities carry a Version; saves with a stale version fail with domain.ErrConflict.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// AccountStore is the durable record of accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
}

// TransactionLog is the append-only ledger. Appends happen through Ledger.Commit.
type TransactionLog interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// ListTransactionsByAccount returns transactions touching the account, newest first.
	ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
	// FindReversal returns the transaction reversing originalID or domain.ErrTransactionNotFound.
	FindReversal(ctx context.Context, originalID uuid.UUID) (*domain.Transaction, error)
}

// LedgerEntry is one atomic unit of work: updated account states plus at most
// one new transaction record.
type LedgerEntry struct {
	Accounts    []domain.Account
	Transaction *domain.Transaction
}

type Ledger interface {
	Commit(ctx context.Context, entry LedgerEntry) error
}

// RecurringTransferRegistry stores standing orders.
type RecurringTransferRegistry interface {
	CreateRule(ctx context.Context, rule *domain.RecurringTransferRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error)
	SaveRule(ctx context.Context, rule *domain.RecurringTransferRule) error
	ListRulesByOwner(ctx context.Context, ownerID string) ([]domain.RecurringTransferRule, error)
	// FindDueRules returns ACTIVE rules with next execution on or before asOf,
	// ordered by next execution date then id.
	FindDueRules(ctx context.Context, asOf domain.Date) ([]domain.RecurringTransferRule, error)
}

type MaturityRegistry interface {
	CreateMaturity(ctx context.Context, maturity *domain.ProductMaturity) error
	GetMaturity(ctx context.Context, id uuid.UUID) (*domain.ProductMaturity, error)
	SaveMaturity(ctx context.Context, maturity *domain.ProductMaturity) error
	ListMaturitiesByOwner(ctx context.Context, ownerID string) ([]domain.ProductMaturity, error)
	FindDueMaturities(ctx context.Context, asOf domain.Date) ([]domain.ProductMaturity, error)
}

// Repository is the full storage surface used by cmd/main.go.
type Repository interface {
	AccountStore
	TransactionLog
	Ledger
	RecurringTransferRegistry
	MaturityRegistry
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// NormalizePage clamps limit/offset to sane bounds.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
