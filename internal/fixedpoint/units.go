package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount is negative")
	ErrAmountOverflow = errors.New("amount does not fit in uint64")
	ErrInvalidPrice   = errors.New("price must be positive")
)

// FromBaseUnit converts an on-chain integer amount to its decimal token amount.
func FromBaseUnit(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(amount).Shift(-int32(decimals))
}

// ToBaseUnit converts a decimal token amount to base units, truncating.
func ToBaseUnit(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	raw := amount.Shift(int32(decimals)).Truncate(0).BigInt()
	if !raw.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, raw.String())
	}
	return raw.Uint64(), nil
}

// UsdValue returns the USD value of amount base units at price.
func UsdValue(amount uint64, decimals uint8, price decimal.Decimal) decimal.Decimal {
	return FromBaseUnit(amount, decimals).Mul(price)
}

// UsdToBaseUnit returns how many base units usd buys at price, truncating.
func UsdToBaseUnit(usd decimal.Decimal, decimals uint8, price decimal.Decimal) (uint64, error) {
	if !price.IsPositive() {
		return 0, ErrInvalidPrice
	}
	return ToBaseUnit(usd.Abs().Div(price), decimals)
}
