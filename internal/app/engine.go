/**
 * @description
 * The transfer engine: the only component allowed to change account balances.
 *
 * Every mutating operation runs the same critical section: lock every touched
 * account in ascending id order, re-read the accounts, validate, mutate, and
 * commit the new balances together with exactly one transaction record.
 *
 * @notes
 * - Lock acquisition is bounded by the configured timeout; on expiry the call
 *   fails with a Conflict error and nothing is changed.
 * - Events are published after the commit and never fail the operation.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// LedgerRepository is the storage surface the engine needs.
type LedgerRepository interface {
	store.AccountStore
	store.TransactionLog
	store.Ledger
}

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	LockTimeout    time.Duration
	EventsExchange string
}

type Engine struct {
	repo        LedgerRepository
	locks       *KeyedLocker
	lockTimeout time.Duration
	events      *eventEmitter
	logger      *slog.Logger
	now         func() time.Time
}

func NewEngine(repo LedgerRepository, publisher EventPublisher, logger *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	return &Engine{
		repo:        repo,
		locks:       NewKeyedLocker(),
		lockTimeout: cfg.LockTimeout,
		events:      newEventEmitter(publisher, cfg.EventsExchange, logger),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// OpenAccountParams describes a new account. A positive InitialDeposit is
// booked as a separate DEPOSIT transaction.
type OpenAccountParams struct {
	OwnerID        string
	BankCode       string
	AccountNumber  string
	Name           string
	InitialDeposit decimal.Decimal
}

// OpenAccount creates an ACTIVE account and applies a positive initial deposit
// as its own DEPOSIT transaction. The two steps are not atomic: if the deposit
// fails the account stays open with a zero balance, and OpenAccount returns
// both the account and the deposit error.
func (e *Engine) OpenAccount(ctx context.Context, p OpenAccountParams) (acct *domain.Account, err error) {
	defer func(start time.Time) { recordOperation("open_account", start, err) }(time.Now())

	if p.InitialDeposit.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	if p.InitialDeposit.IsPositive() {
		if err := domain.ValidateAmount(p.InitialDeposit); err != nil {
			return nil, err
		}
	}

	acct, err = domain.NewAccount(strings.TrimSpace(p.OwnerID), strings.TrimSpace(p.BankCode), strings.TrimSpace(p.AccountNumber), strings.TrimSpace(p.Name), e.now())
	if err != nil {
		return nil, err
	}
	if err := e.repo.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	e.logger.Info("account opened", "account_id", acct.ID, "owner_id", acct.OwnerID)
	e.events.emit(ctx, EventAccountOpened, newAccountEvent(acct))

	if p.InitialDeposit.IsPositive() {
		if _, err := e.Deposit(ctx, acct.ID, p.InitialDeposit, "Initial deposit"); err != nil {
			return acct, fmt.Errorf("account %s opened but initial deposit failed: %w", acct.ID, err)
		}
		return e.repo.GetAccount(ctx, acct.ID)
	}
	return acct, nil
}

func (e *Engine) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return e.repo.GetAccount(ctx, id)
}

func (e *Engine) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return e.repo.ListAccountsByOwner(ctx, ownerID)
}

func (e *Engine) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return e.repo.GetTransaction(ctx, id)
}

// ListTransactions returns the account's transactions, newest first.
func (e *Engine) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if _, err := e.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.repo.ListTransactionsByAccount(ctx, accountID, limit, offset)
}

// mutation is the body of a critical section. It receives freshly read accounts
// keyed by id and returns the entry to commit.
type mutation func(accounts map[uuid.UUID]*domain.Account, now time.Time) (store.LedgerEntry, error)

// withLockedAccounts runs fn under exclusive access to every account in ids
// plus any extra lock keys.
func (e *Engine) withLockedAccounts(ctx context.Context, ids []uuid.UUID, extraKeys []uuid.UUID, fn mutation) (store.LedgerEntry, error) {
	release, err := e.locks.Acquire(ctx, e.lockTimeout, append(append([]uuid.UUID(nil), ids...), extraKeys...)...)
	if err != nil {
		return store.LedgerEntry{}, err
	}
	defer release()

	accounts := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range ids {
		acct, err := e.repo.GetAccount(ctx, id)
		if err != nil {
			return store.LedgerEntry{}, err
		}
		accounts[id] = acct
	}

	entry, err := fn(accounts, e.now())
	if err != nil {
		return store.LedgerEntry{}, err
	}
	if entry.Transaction != nil {
		if err := entry.Transaction.Validate(); err != nil {
			return store.LedgerEntry{}, err
		}
	}
	if err := e.repo.Commit(ctx, entry); err != nil {
		return store.LedgerEntry{}, err
	}
	return entry, nil
}

func (e *Engine) afterTransaction(ctx context.Context, operation string, tx *domain.Transaction) {
	e.logger.Info("transaction completed",
		"operation", operation,
		"transaction_id", tx.ID,
		"type", tx.Type,
		"amount", tx.Amount.StringFixed(domain.AmountScale),
	)
	e.events.emit(ctx, EventTransactionCompleted, tx)
}

// Deposit credits amount to accountID.
func (e *Engine) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (tx *domain.Transaction, err error) {
	defer func(start time.Time) { recordOperation("deposit", start, err) }(time.Now())

	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	entry, err := e.withLockedAccounts(ctx, []uuid.UUID{accountID}, nil, func(accts map[uuid.UUID]*domain.Account, now time.Time) (store.LedgerEntry, error) {
		acct := accts[accountID]
		if err := acct.Credit(amount, now); err != nil {
			return store.LedgerEntry{}, err
		}
		return store.LedgerEntry{
			Accounts:    []domain.Account{*acct},
			Transaction: domain.NewDeposit(acct, amount, description, now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.afterTransaction(ctx, "deposit", entry.Transaction)
	return entry.Transaction, nil
}

// Withdraw debits amount from accountID. The balance never goes negative.
func (e *Engine) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (tx *domain.Transaction, err error) {
	defer func(start time.Time) { recordOperation("withdraw", start, err) }(time.Now())

	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	entry, err := e.withLockedAccounts(ctx, []uuid.UUID{accountID}, nil, func(accts map[uuid.UUID]*domain.Account, now time.Time) (store.LedgerEntry, error) {
		acct := accts[accountID]
		if err := acct.Debit(amount, now); err != nil {
			return store.LedgerEntry{}, err
		}
		return store.LedgerEntry{
			Accounts:    []domain.Account{*acct},
			Transaction: domain.NewWithdrawal(acct, amount, description, now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.afterTransaction(ctx, "withdraw", entry.Transaction)
	return entry.Transaction, nil
}

// Transfer moves amount from sourceID to destID as one atomic unit.
func (e *Engine) Transfer(ctx context.Context, sourceID, destID uuid.UUID, amount decimal.Decimal, description string) (tx *domain.Transaction, err error) {
	defer func(start time.Time) { recordOperation("transfer", start, err) }(time.Now())

	if sourceID == destID {
		return nil, domain.ErrSameAccountTransfer
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	entry, err := e.withLockedAccounts(ctx, []uuid.UUID{sourceID, destID}, nil, func(accts map[uuid.UUID]*domain.Account, now time.Time) (store.LedgerEntry, error) {
		return transferEntry(accts[sourceID], accts[destID], amount, description, now)
	})
	if err != nil {
		return nil, err
	}
	e.afterTransaction(ctx, "transfer", entry.Transaction)
	return entry.Transaction, nil
}

func transferEntry(source, dest *domain.Account, amount decimal.Decimal, description string, now time.Time) (store.LedgerEntry, error) {
	// Both accounts must be active before any balance is touched.
	for _, acct := range []*domain.Account{source, dest} {
		if !acct.IsActive() {
			return store.LedgerEntry{}, fmt.Errorf("%w: %s", domain.ErrAccountNotActive, acct.ID)
		}
	}
	if err := source.Debit(amount, now); err != nil {
		return store.LedgerEntry{}, err
	}
	if err := dest.Credit(amount, now); err != nil {
		return store.LedgerEntry{}, err
	}
	return store.LedgerEntry{
		Accounts:    []domain.Account{*source, *dest},
		Transaction: domain.NewTransfer(source, dest, amount, description, now),
	}, nil
}

// CloseAccount closes an active account whose balance is zero.
func (e *Engine) CloseAccount(ctx context.Context, accountID uuid.UUID) (acct *domain.Account, err error) {
	defer func(start time.Time) { recordOperation("close_account", start, err) }(time.Now())

	entry, err := e.withLockedAccounts(ctx, []uuid.UUID{accountID}, nil, func(accts map[uuid.UUID]*domain.Account, now time.Time) (store.LedgerEntry, error) {
		a := accts[accountID]
		if err := a.Close(now); err != nil {
			return store.LedgerEntry{}, err
		}
		return store.LedgerEntry{Accounts: []domain.Account{*a}}, nil
	})
	if err != nil {
		return nil, err
	}
	closed := entry.Accounts[0]
	e.logger.Info("account closed", "account_id", closed.ID)
	e.events.emit(ctx, EventAccountClosed, newAccountEvent(&closed))
	return &closed, nil
}

// ReverseTransaction books the inverse movement of txID as a new transaction.
// A transaction can be reversed once, and reversals cannot be reversed.
func (e *Engine) ReverseTransaction(ctx context.Context, txID uuid.UUID, description string) (tx *domain.Transaction, err error) {
	defer func(start time.Time) { recordOperation("reverse", start, err) }(time.Now())

	original, err := e.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if original.IsReversal() {
		return nil, fmt.Errorf("%w: transaction %s is itself a reversal", domain.ErrInvalidInput, txID)
	}
	if original.Status != domain.TransactionStatusCompleted {
		return nil, fmt.Errorf("%w: only completed transactions can be reversed", domain.ErrInvalidInput)
	}
	if description == "" {
		description = "Reversal of " + original.ID.String()
	}

	var ids []uuid.UUID
	if original.SourceAccountID != nil {
		ids = append(ids, *original.SourceAccountID)
	}
	if original.DestinationAccountID != nil {
		ids = append(ids, *original.DestinationAccountID)
	}

	// The original's id is locked too so concurrent reversals serialize on the
	// already-reversed check.
	entry, err := e.withLockedAccounts(ctx, ids, []uuid.UUID{original.ID}, func(accts map[uuid.UUID]*domain.Account, now time.Time) (store.LedgerEntry, error) {
		if _, err := e.repo.FindReversal(ctx, original.ID); err == nil {
			return store.LedgerEntry{}, fmt.Errorf("%w: transaction %s already reversed", domain.ErrConflict, original.ID)
		} else if domain.KindOf(err) != domain.KindNotFound {
			return store.LedgerEntry{}, err
		}

		var entry store.LedgerEntry
		switch original.Type {
		case domain.TransactionTypeTransfer:
			var err error
			entry, err = transferEntry(accts[*original.DestinationAccountID], accts[*original.SourceAccountID], original.Amount, description, now)
			if err != nil {
				return store.LedgerEntry{}, err
			}
		case domain.TransactionTypeDeposit:
			acct := accts[*original.DestinationAccountID]
			if err := acct.Debit(original.Amount, now); err != nil {
				return store.LedgerEntry{}, err
			}
			entry = store.LedgerEntry{Accounts: []domain.Account{*acct}, Transaction: domain.NewWithdrawal(acct, original.Amount, description, now)}
		case domain.TransactionTypeWithdrawal:
			acct := accts[*original.SourceAccountID]
			if err := acct.Credit(original.Amount, now); err != nil {
				return store.LedgerEntry{}, err
			}
			entry = store.LedgerEntry{Accounts: []domain.Account{*acct}, Transaction: domain.NewDeposit(acct, original.Amount, description, now)}
		default:
			return store.LedgerEntry{}, fmt.Errorf("%w: unknown transaction type %q", domain.ErrInvalidInput, original.Type)
		}
		entry.Transaction.ReversesTransactionID = &original.ID
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	e.afterTransaction(ctx, "reverse", entry.Transaction)
	return entry.Transaction, nil
}
