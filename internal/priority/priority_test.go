package priority

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatePercentile(t *testing.T) {
	sorted := []uint64{100, 200, 300, 400, 500}

	tests := []struct {
		percentile int
		expected   uint64
	}{
		{percentile: 0, expected: 100},
		{percentile: 50, expected: 300},
		{percentile: 75, expected: 400},
		{percentile: 90, expected: 460},
		{percentile: 100, expected: 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, calculatePercentile(sorted, tt.percentile), "p%d", tt.percentile)
	}
	assert.Zero(t, calculatePercentile(nil, 50))
}

func TestGetOptimalFee(t *testing.T) {
	source := func(context.Context, []solana.PublicKey) ([]uint64, error) {
		return []uint64{500, 100, 400, 300, 200}, nil
	}
	fee := NewFeeCalculator(source).GetOptimalFee(context.Background(), UrgencyMedium, nil)
	assert.Equal(t, uint64(400), fee.FeePerCU)
	assert.Equal(t, 5, fee.SampleCount)

	low := func(context.Context, []solana.PublicKey) ([]uint64, error) { return []uint64{1, 2}, nil }
	assert.Equal(t, uint64(minFeePerCU), NewFeeCalculator(low).GetOptimalFee(context.Background(), UrgencyLow, nil).FeePerCU)

	failing := func(context.Context, []solana.PublicKey) ([]uint64, error) { return nil, errors.New("rpc down") }
	fallback := NewFeeCalculator(failing).GetOptimalFee(context.Background(), UrgencyHigh, nil)
	assert.Equal(t, DefaultFees[UrgencyHigh], fallback.FeePerCU)
	assert.Zero(t, fallback.SampleCount)
}

func TestUnitsWithBuffer(t *testing.T) {
	assert.Equal(t, uint32(110_000), UnitsWithBuffer(100_000))
	assert.Equal(t, uint32(220_000), UnitsWithBuffer(0))
	assert.Equal(t, uint32(MaxComputeUnits), UnitsWithBuffer(1_300_000))
}

func TestBudgetPlaceholderMatchesFinalSize(t *testing.T) {
	source := func(context.Context, []solana.PublicKey) ([]uint64, error) { return []uint64{5_000_000}, nil }
	b := NewBudget(NewFeeCalculator(source), UrgencyMedium, 1_000_000)

	placeholder := b.Placeholder()
	final := b.Instructions(context.Background(), 80_000, nil)
	require.Len(t, final, len(placeholder))

	for i := range placeholder {
		want, err := placeholder[i].Data()
		require.NoError(t, err)
		got, err := final[i].Data()
		require.NoError(t, err)
		assert.Len(t, got, len(want))
		assert.Equal(t, ComputeBudgetProgramID, final[i].ProgramID())
	}

	price := final[1].(*SetComputeUnitPriceInstruction)
	assert.Equal(t, uint64(1_000_000), price.MicroLamports, "fee is capped")
	limit := final[0].(*SetComputeUnitLimitInstruction)
	assert.Equal(t, uint32(88_000), limit.Units)
}

func TestParseUrgency(t *testing.T) {
	assert.Equal(t, UrgencyHigh, ParseUrgency("high"))
	assert.Equal(t, UrgencyMedium, ParseUrgency(""))
}
