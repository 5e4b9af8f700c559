package domain

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ScaleDecimals is the number of implied decimal places in vault amounts.
const ScaleDecimals = 7

var (
	// MaxAmount is the largest value a signed 128-bit balance can hold.
	MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1)), 0)
	// MinAmount is the smallest value a signed 128-bit amount can hold.
	MinAmount = decimal.NewFromBigInt(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127)), 0)
)

// CheckAmount verifies that amount is an integer inside the signed 128-bit range.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsInteger() {
		return errors.Wrapf(ErrInvalidAmount, "amount %s is not an integer number of units", amount.String())
	}
	if amount.GreaterThan(MaxAmount) || amount.LessThan(MinAmount) {
		return errors.Wrapf(ErrAmountOverflow, "amount %s", amount.String())
	}
	return nil
}

// CheckPositiveAmount is CheckAmount plus the amount > 0 rule of deposits and withdrawals.
func CheckPositiveAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "amount must be positive, got %s", amount.String())
	}
	return CheckAmount(amount)
}

// Scale converts a human amount (e.g. 1.5) into integer vault units.
// Digits beyond ScaleDecimals are rejected rather than rounded.
func Scale(human decimal.Decimal) (decimal.Decimal, error) {
	scaled := human.Shift(ScaleDecimals)
	if !scaled.IsInteger() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "%s has more than %d decimal places", human.String(), ScaleDecimals)
	}
	return scaled, CheckAmount(scaled)
}

// Unscale converts integer vault units back to a human amount.
func Unscale(units decimal.Decimal) decimal.Decimal {
	return units.Shift(-ScaleDecimals)
}
