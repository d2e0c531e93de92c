package fixedpoint

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name     string
		a, b, c  uint64
		expected uint64
	}{
		{name: "simple", a: 1000, b: 25, c: 100, expected: 250},
		{name: "truncates", a: 10, b: 1, c: 3, expected: 3},
		{name: "zero divisor", a: 10, b: 10, c: 0, expected: 0},
		{name: "wide intermediate", a: 18_446_744_073_709_551_615, b: 5_000, c: 10_000, expected: 9_223_372_036_854_775_807},
		{name: "saturates", a: 18_446_744_073_709_551_615, b: 2, c: 1, expected: 18_446_744_073_709_551_615},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MulDiv(tt.a, tt.b, tt.c))
		})
	}
}

func TestBpsHelpers(t *testing.T) {
	assert.Equal(t, uint64(50), ApplyBps(1000, 500))
	assert.Equal(t, uint64(950), SubtractBps(1000, 500))
	assert.Equal(t, uint64(0), SubtractBps(1000, 10_000))
	assert.Equal(t, uint64(1050), AddBps(1000, 500))

	assert.True(t, FromBps(2500).Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, uint16(2500), ToBps(decimal.RequireFromString("0.25")))
	assert.Equal(t, uint16(3333), ToBps(decimal.RequireFromString("0.33339")))
	assert.Equal(t, uint16(0), ToBps(decimal.RequireFromString("-0.1")))
	assert.Equal(t, uint16(MaxBps), ToBps(decimal.NewFromInt(100)))
}

func TestLiqUtilizationRateBps(t *testing.T) {
	supply := decimal.NewFromInt(1000)

	assert.Equal(t, uint16(3400), LiqUtilizationRateBps(supply, decimal.NewFromInt(289), 8500))
	assert.Equal(t, uint16(0), LiqUtilizationRateBps(supply, decimal.Zero, 8500))
	assert.Equal(t, uint16(MaxBps), LiqUtilizationRateBps(decimal.Zero, decimal.NewFromInt(1), 8500))
}

func TestMaxLiqUtilizationRateBps(t *testing.T) {
	// 80% max LTV at 85% threshold is 9411 bps, minus a 1% margin is 9294
	assert.Equal(t, uint16(9411), MaxLiqUtilizationRateBps(8000, 8500, 0))
	assert.Equal(t, uint16(9294), MaxLiqUtilizationRateBps(8000, 8500, 100))
	assert.Equal(t, uint16(0), MaxLiqUtilizationRateBps(8000, 0, 0))
}

func TestBaseUnitConversions(t *testing.T) {
	assert.True(t, FromBaseUnit(1_500_000, 6).Equal(decimal.RequireFromString("1.5")))

	amount, err := ToBaseUnit(decimal.RequireFromString("1.2345678"), 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_234_567), amount)

	_, err = ToBaseUnit(decimal.NewFromInt(-1), 6)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ToBaseUnit(decimal.RequireFromString("1e30"), 9)
	assert.ErrorIs(t, err, ErrAmountOverflow)

	usd := UsdValue(2_000_000_000, 9, decimal.NewFromInt(150))
	assert.True(t, usd.Equal(decimal.NewFromInt(300)))

	units, err := UsdToBaseUnit(decimal.NewFromInt(-300), 9, decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000), units)

	_, err = UsdToBaseUnit(decimal.NewFromInt(1), 9, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}
