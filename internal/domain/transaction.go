package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCanceled  TransactionStatus = "CANCELED"
)

// Transaction is an immutable ledger record of one balance movement.
type Transaction struct {
	ID                      uuid.UUID         `json:"id"`
	SourceAccountID         *uuid.UUID        `json:"source_account_id,omitempty"`
	DestinationAccountID    *uuid.UUID        `json:"destination_account_id,omitempty"`
	Amount                  decimal.Decimal   `json:"amount"`
	Type                    TransactionType   `json:"type"`
	Description             string            `json:"description,omitempty"`
	Status                  TransactionStatus `json:"status"`
	SourceBalanceAfter      *decimal.Decimal  `json:"source_balance_after,omitempty"`
	DestinationBalanceAfter *decimal.Decimal  `json:"destination_balance_after,omitempty"`
	ReversesTransactionID   *uuid.UUID        `json:"reverses_transaction_id,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
}

// NewDeposit records amount credited to dest.
func NewDeposit(dest *Account, amount decimal.Decimal, description string, now time.Time) *Transaction {
	balance := dest.Balance
	return &Transaction{
		ID:                      uuid.New(),
		DestinationAccountID:    ptr(dest.ID),
		Amount:                  amount,
		Type:                    TransactionTypeDeposit,
		Description:             description,
		Status:                  TransactionStatusCompleted,
		DestinationBalanceAfter: &balance,
		CreatedAt:               now,
	}
}

// NewWithdrawal records amount debited from source.
func NewWithdrawal(source *Account, amount decimal.Decimal, description string, now time.Time) *Transaction {
	balance := source.Balance
	return &Transaction{
		ID:                 uuid.New(),
		SourceAccountID:    ptr(source.ID),
		Amount:             amount,
		Type:               TransactionTypeWithdrawal,
		Description:        description,
		Status:             TransactionStatusCompleted,
		SourceBalanceAfter: &balance,
		CreatedAt:          now,
	}
}

// NewTransfer records amount moved from source to dest.
func NewTransfer(source, dest *Account, amount decimal.Decimal, description string, now time.Time) *Transaction {
	srcBalance, dstBalance := source.Balance, dest.Balance
	return &Transaction{
		ID:                      uuid.New(),
		SourceAccountID:         ptr(source.ID),
		DestinationAccountID:    ptr(dest.ID),
		Amount:                  amount,
		Type:                    TransactionTypeTransfer,
		Description:             description,
		Status:                  TransactionStatusCompleted,
		SourceBalanceAfter:      &srcBalance,
		DestinationBalanceAfter: &dstBalance,
		CreatedAt:               now,
	}
}

// Validate checks that the populated account references match the type.
func (t *Transaction) Validate() error {
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	switch t.Type {
	case TransactionTypeDeposit:
		if t.SourceAccountID != nil || t.DestinationAccountID == nil {
			return fmt.Errorf("%w: deposit must reference only a destination account", ErrInvalidInput)
		}
	case TransactionTypeWithdrawal:
		if t.SourceAccountID == nil || t.DestinationAccountID != nil {
			return fmt.Errorf("%w: withdrawal must reference only a source account", ErrInvalidInput)
		}
	case TransactionTypeTransfer:
		if t.SourceAccountID == nil || t.DestinationAccountID == nil {
			return fmt.Errorf("%w: transfer must reference both accounts", ErrInvalidInput)
		}
		if *t.SourceAccountID == *t.DestinationAccountID {
			return ErrSameAccountTransfer
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, t.Type)
	}
	return nil
}

// Involves reports whether accountID is the source or destination.
func (t *Transaction) Involves(accountID uuid.UUID) bool {
	return (t.SourceAccountID != nil && *t.SourceAccountID == accountID) ||
		(t.DestinationAccountID != nil && *t.DestinationAccountID == accountID)
}

func (t *Transaction) IsReversal() bool {
	return t.ReversesTransactionID != nil
}

func ptr[T any](v T) *T {
	return &v
}
