package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usdcPrices() Prices {
	return Prices{Supply: decimal.NewFromInt(1), Debt: decimal.NewFromInt(1)}
}

func testState(t *testing.T, supply, debt uint64) PositionState {
	t.Helper()
	s, err := NewPositionState(
		TokenUsage{Decimals: 6, AmountUsed: supply, AmountCanBeUsed: supply},
		TokenUsage{Decimals: 6, AmountUsed: debt, AmountCanBeUsed: 10_000_000_000},
		usdcPrices(), 8000, 8500, time.Now().Unix(),
	)
	require.NoError(t, err)
	return s
}

func TestNewPositionState(t *testing.T) {
	s := testState(t, 1_000_000_000, 289_000_000)

	assert.Equal(t, uint16(3400), s.LiqUtilizationRateBps)
	assert.True(t, s.NetWorthUsd.Equal(decimal.NewFromInt(711)))
	assert.False(t, s.Derived)

	_, err := NewPositionState(TokenUsage{}, TokenUsage{}, Prices{Supply: decimal.Zero, Debt: decimal.NewFromInt(1)}, 8000, 8500, 0)
	assert.ErrorIs(t, err, ErrInvalidPrices)

	_, err = NewPositionState(TokenUsage{}, TokenUsage{}, usdcPrices(), 9000, 8500, 0)
	assert.ErrorIs(t, err, ErrInvalidLtvBand)
}

func TestWithBalancesRecomputesRate(t *testing.T) {
	s := testState(t, 1_000_000_000, 289_000_000)

	next, err := s.WithBalances(1_000_000_000, 0, 425_000_000, 0, usdcPrices())
	require.NoError(t, err)

	assert.Equal(t, uint16(5000), next.LiqUtilizationRateBps)
	assert.True(t, next.Derived)
	assert.Equal(t, uint16(3400), s.LiqUtilizationRateBps, "receiver must not change")
}

func TestIsStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := testState(t, 1_000_000_000, 0)
	s.LastUpdated = now.Add(-10 * time.Second).Unix()

	assert.False(t, s.IsStale(now, 30*time.Second))
	assert.True(t, s.IsStale(now, 5*time.Second))

	derived, err := s.WithBalances(1, 1, 0, 0, usdcPrices())
	require.NoError(t, err)
	assert.True(t, derived.IsStale(now, time.Hour))
}

func TestPeriodsDue(t *testing.T) {
	a := AutomationSchedule{TargetPeriods: 4, PeriodsPassed: 1, UnixStartDate: 1000, IntervalSeconds: 100}

	tests := []struct {
		now      int64
		expected uint16
	}{
		{now: 500, expected: 1},
		{now: 1100, expected: 1},
		{now: 1199, expected: 1},
		{now: 1200, expected: 2},
		{now: 1350, expected: 3},
		{now: 9999, expected: 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, a.PeriodsDue(tt.now), "now=%d", tt.now)
	}

	assert.False(t, a.Eligible(1199))
	assert.True(t, a.Eligible(1200))

	done := AutomationSchedule{TargetPeriods: 2, PeriodsPassed: 2, UnixStartDate: 0, IntervalSeconds: 1}
	assert.True(t, done.Exhausted())
	assert.False(t, done.Eligible(1_000))
	assert.False(t, AutomationSchedule{}.Active())
}

func TestRebalanceSettingsValidate(t *testing.T) {
	ok := RebalanceSettings{BoostToBps: 5000, BoostGap: 200, RepayToBps: 6500, RepayGap: 100}
	assert.NoError(t, ok.Validate())
	assert.Equal(t, 4800, ok.BoostTrigger())
	assert.Equal(t, 6600, ok.RepayTrigger())

	overlap := RebalanceSettings{BoostToBps: 6000, BoostGap: 0, RepayToBps: 5500, RepayGap: 500}
	assert.ErrorIs(t, overlap.Validate(), ErrOverlappingBands)

	bad := ok
	bad.Automation = AutomationSchedule{TargetPeriods: 3, PeriodsPassed: 1}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSchedule)
}

func TestPendingLog(t *testing.T) {
	s := testState(t, 1_000_000_000, 289_000_000)

	var empty PendingLog
	log := empty.Append(Delta{SupplyBaseUnit: 500_000_000})
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 1, log.Len())

	eff, err := log.Effective(s, usdcPrices())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), eff.Supply.AmountUsed)
	assert.Equal(t, uint16(2266), eff.LiqUtilizationRateBps)
	assert.True(t, eff.Derived)

	_, err = log.Append(Delta{DebtBaseUnit: -300_000_000}).Effective(s, usdcPrices())
	assert.ErrorIs(t, err, ErrPendingUnderflow)

	first := RebalanceSettings{BoostToBps: 1}
	second := RebalanceSettings{BoostToBps: 2}
	withSettings := log.Append(Delta{Settings: &first}).Append(Delta{Settings: &second})
	assert.Equal(t, uint16(2), withSettings.EffectiveSettings(RebalanceSettings{}).BoostToBps)
	assert.Equal(t, uint16(9), empty.EffectiveSettings(RebalanceSettings{BoostToBps: 9}).BoostToBps)
}

func TestPendingWithdrawClampsAvailableSupply(t *testing.T) {
	s := testState(t, 1_000_000_000, 100_000_000)

	var log PendingLog
	eff, err := log.Append(Delta{SupplyBaseUnit: -400_000_000}).Effective(s, usdcPrices())
	require.NoError(t, err)
	assert.Equal(t, uint64(600_000_000), eff.Supply.AmountUsed)
	assert.Equal(t, uint64(600_000_000), eff.Supply.AmountCanBeUsed)

	// a deposit does not make more reserve liquidity withdrawable
	eff, err = log.Append(Delta{SupplyBaseUnit: 500_000_000}).Effective(s, usdcPrices())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), eff.Supply.AmountUsed)
	assert.Equal(t, uint64(1_000_000_000), eff.Supply.AmountCanBeUsed)
	assert.Equal(t, s.Debt.AmountCanBeUsed, eff.Debt.AmountCanBeUsed)
}

func TestPlanningContextEffective(t *testing.T) {
	s := testState(t, 1_000_000_000, 289_000_000)
	dca := &DCASettings{DebtToAddBaseUnit: 7}
	pctx := PlanningContext{
		State:   s,
		Prices:  usdcPrices(),
		Pending: PendingLog{}.Append(Delta{DebtBaseUnit: 136_000_000, DCA: dca}),
	}

	eff, err := pctx.Effective()
	require.NoError(t, err)
	assert.Equal(t, uint16(5000), eff.State.LiqUtilizationRateBps)
	assert.Equal(t, uint64(7), eff.DCA.DebtToAddBaseUnit)
	assert.Equal(t, 0, eff.Pending.Len())
}
