/**
 * @description
 * Domain errors for the ledger-service. Every error returned by the engine, the
 * scheduler jobs or the stores wraps one of these sentinels so that callers can
 * classify failures with errors.Is / KindOf instead of matching strings.
 */

package domain

import (
	"context"
	"errors"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrRuleNotFound        = errors.New("recurring transfer rule not found")
	ErrMaturityNotFound    = errors.New("product maturity not found")

	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrSameAccountTransfer = errors.New("source and destination accounts must differ")
	ErrInvalidSchedule     = errors.New("invalid schedule")
	ErrNonZeroBalance      = errors.New("account balance must be zero to close")

	ErrAccountNotActive    = errors.New("account is not active")
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrConflict               = errors.New("conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// ErrorKind is the caller-facing classification of a failure.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindInvalidInput        ErrorKind = "INVALID_INPUT"
	KindAccountNotActive    ErrorKind = "ACCOUNT_NOT_ACTIVE"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindConflict            ErrorKind = "CONFLICT"
	KindInternal            ErrorKind = "INTERNAL"
)

// KindOf classifies err. Anything that does not wrap a known sentinel is Internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrRuleNotFound),
		errors.Is(err, ErrMaturityNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSameAccountTransfer),
		errors.Is(err, ErrInvalidSchedule),
		errors.Is(err, ErrNonZeroBalance):
		return KindInvalidInput
	case errors.Is(err, ErrAccountNotActive):
		return KindAccountNotActive
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, context.DeadlineExceeded):
		return KindConflict
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the same call may succeed if repeated later
// without any change on the caller's side.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}
