package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MaturityStatus string

const (
	MaturityStatusPending   MaturityStatus = "PENDING"
	MaturityStatusPaid      MaturityStatus = "PAID"
	MaturityStatusCancelled MaturityStatus = "CANCELLED"
)

// ProductMaturity schedules the payout of a product account's balance into a
// payout account on the maturity date, after which the product account is closed.
type ProductMaturity struct {
	ID                uuid.UUID      `json:"id"`
	OwnerID           string         `json:"owner_id"`
	ProductAccountID  uuid.UUID      `json:"product_account_id"`
	PayoutAccountID   uuid.UUID      `json:"payout_account_id"`
	MaturityDate      Date           `json:"maturity_date"`
	Status            MaturityStatus `json:"status"`
	PaidTransactionID *uuid.UUID     `json:"paid_transaction_id,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	Version           int64          `json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func NewProductMaturity(ownerID string, productAccountID, payoutAccountID uuid.UUID, maturityDate Date, now time.Time) (*ProductMaturity, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if productAccountID == payoutAccountID {
		return nil, ErrSameAccountTransfer
	}
	if maturityDate.IsZero() {
		return nil, fmt.Errorf("%w: maturity date is required", ErrInvalidSchedule)
	}
	return &ProductMaturity{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		ProductAccountID: productAccountID,
		PayoutAccountID:  payoutAccountID,
		MaturityDate:     maturityDate,
		Status:           MaturityStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (m *ProductMaturity) IsDue(today Date) bool {
	return m.Status == MaturityStatusPending && !m.MaturityDate.After(today)
}

// MarkPaid records a completed payout. txID is nil when there was nothing to move.
func (m *ProductMaturity) MarkPaid(txID *uuid.UUID, now time.Time) error {
	if m.Status != MaturityStatusPending {
		return fmt.Errorf("%w: maturity is %s", ErrInvalidStateTransition, m.Status)
	}
	m.Status = MaturityStatusPaid
	m.PaidTransactionID = txID
	m.PaidAt = &now
	m.FailureReason = ""
	m.UpdatedAt = now
	return nil
}

func (m *ProductMaturity) RecordFailure(reason string, now time.Time) {
	if len(reason) > maxFailureReasonLen {
		reason = reason[:maxFailureReasonLen]
	}
	m.FailureReason = reason
	m.UpdatedAt = now
}

func (m *ProductMaturity) Cancel(now time.Time) error {
	if m.Status != MaturityStatusPending {
		return fmt.Errorf("%w: only pending maturities can be cancelled", ErrInvalidStateTransition)
	}
	m.Status = MaturityStatusCancelled
	m.UpdatedAt = now
	return nil
}
