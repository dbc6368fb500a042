package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by every amount and balance.
const AmountScale = 2

// ValidateAmount checks that amount is strictly positive and representable at AmountScale.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return fmt.Errorf("%w: at most %d decimal places allowed", ErrInvalidAmount, AmountScale)
	}
	return nil
}

// ParseAmount parses a decimal string such as "150.00" and validates it.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
