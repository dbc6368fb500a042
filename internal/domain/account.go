/**
 * @description
 * Account model for the ledger-service. Balances only change through the
 * mutation methods below, which keep the non-negative and closed-is-terminal
 * rules in one place.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Account is a balance-holding ledger account.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	OwnerID       string          `json:"owner_id"`
	BankCode      string          `json:"bank_code"`
	AccountNumber string          `json:"account_number"`
	Name          string          `json:"name,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewAccount builds an ACTIVE account with a zero balance.
func NewAccount(ownerID, bankCode, accountNumber, name string, now time.Time) (*Account, error) {
	if ownerID == "" || bankCode == "" || accountNumber == "" {
		return nil, fmt.Errorf("%w: owner, bank code and account number are required", ErrInvalidInput)
	}
	return &Account{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		BankCode:      bankCode,
		AccountNumber: accountNumber,
		Name:          name,
		Balance:       decimal.Zero,
		Status:        AccountStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !a.IsActive() {
		return fmt.Errorf("%w: %s", ErrAccountNotActive, a.ID)
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
	return nil
}

// Debit subtracts amount from the balance; the balance never goes negative.
func (a *Account) Debit(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !a.IsActive() {
		return fmt.Errorf("%w: %s", ErrAccountNotActive, a.ID)
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, a.ID, a.Balance.StringFixed(AmountScale), amount.StringFixed(AmountScale))
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
	return nil
}

// Close moves an ACTIVE, empty account to CLOSED.
func (a *Account) Close(now time.Time) error {
	if !a.IsActive() {
		return fmt.Errorf("%w: %s", ErrAccountNotActive, a.ID)
	}
	if !a.Balance.IsZero() {
		return fmt.Errorf("%w: balance is %s", ErrNonZeroBalance, a.Balance.StringFixed(AmountScale))
	}
	a.Status = AccountStatusClosed
	a.UpdatedAt = now
	return nil
}
