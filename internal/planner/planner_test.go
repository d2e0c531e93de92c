package planner

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/leverage-keeper/internal/domain"
)

var (
	solMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	user     = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	prices   = domain.Prices{Supply: decimal.NewFromInt(100), Debt: decimal.NewFromInt(1)}
)

// 10 SOL at $100 supplied against debtUsdc of USDC, 80% max ltv, 85% threshold.
func solPosition(t *testing.T, debtUsdc uint64) domain.PositionState {
	t.Helper()
	state, err := domain.NewPositionState(
		domain.TokenUsage{Mint: solMint, Decimals: 9, AmountUsed: 10_000_000_000, AmountCanBeUsed: 10_000_000_000},
		domain.TokenUsage{Mint: usdcMint, Decimals: 6, AmountUsed: debtUsdc * 1_000_000, AmountCanBeUsed: 5_000_000_000},
		prices, 8000, 8500, time.Now().Unix(),
	)
	require.NoError(t, err)
	return state
}

func TestSlippageGrowsWithAttempts(t *testing.T) {
	cfg := DefaultSwapConfig()
	assert.Equal(t, uint16(30), cfg.SlippageBps(0))
	assert.Equal(t, uint16(36), cfg.SlippageBps(1))
	assert.Equal(t, uint16(42), cfg.SlippageBps(2))
	assert.Equal(t, uint16(300), cfg.SlippageBps(100))
	assert.Equal(t, uint16(30), cfg.SlippageBps(-3))
}

func TestPlanSwapBoost(t *testing.T) {
	state := solPosition(t, 289)
	values := domain.RebalanceValues{
		Direction:         domain.DirectionBoost,
		TargetBps:         5000,
		DebtAdjustmentUsd: decimal.NewFromInt(100),
		FeeBps:            50,
	}

	req, err := PlanSwap(user, state, prices, values, 2, DefaultSwapConfig())
	require.NoError(t, err)

	assert.Equal(t, usdcMint, req.InputMint)
	assert.Equal(t, solMint, req.OutputMint)
	assert.Equal(t, domain.SwapModeExactIn, req.SwapMode)
	assert.Equal(t, uint64(99_500_000), req.Amount)
	assert.Equal(t, uint16(42), req.SlippageBps)
	assert.Equal(t, user, req.UserWallet)

	values.AmountToDcaInBaseUnit = 500_000
	req, err = PlanSwap(user, state, prices, values, 0, DefaultSwapConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), req.Amount)
}

func TestPlanSwapRepay(t *testing.T) {
	state := solPosition(t, 289)

	tests := []struct {
		name   string
		values domain.RebalanceValues
		mode   domain.SwapMode
		amount uint64
	}{
		{
			name:   "exact in",
			values: domain.RebalanceValues{Direction: domain.DirectionRepay, TargetBps: 2000, DebtAdjustmentUsd: decimal.NewFromInt(-100)},
			mode:   domain.SwapModeExactIn,
			amount: 1_000_000_000,
		},
		{
			name:   "full unwind",
			values: domain.RebalanceValues{Direction: domain.DirectionRepay, TargetBps: 0, DebtAdjustmentUsd: decimal.NewFromInt(-289)},
			mode:   domain.SwapModeExactOut,
			amount: 289_000_000,
		},
		{
			name:   "close to max ltv",
			values: domain.RebalanceValues{Direction: domain.DirectionRepay, TargetBps: 9000, DebtAdjustmentUsd: decimal.NewFromInt(-100), RepayingCloseToMaxLtv: true},
			mode:   domain.SwapModeExactOut,
			amount: 100_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := PlanSwap(user, state, prices, tt.values, 0, DefaultSwapConfig())
			require.NoError(t, err)
			assert.Equal(t, solMint, req.InputMint)
			assert.Equal(t, usdcMint, req.OutputMint)
			assert.Equal(t, tt.mode, req.SwapMode)
			assert.Equal(t, tt.amount, req.Amount)
		})
	}
}

func TestPlanSwapZeroAmount(t *testing.T) {
	values := domain.RebalanceValues{Direction: domain.DirectionRepay, TargetBps: 2000, DebtAdjustmentUsd: decimal.RequireFromString("-0.0000000001")}
	_, err := PlanSwap(user, solPosition(t, 289), prices, values, 0, DefaultSwapConfig())
	assert.ErrorIs(t, err, domain.ErrPlanningInfeasible)
}

func quoteFor(input solana.PublicKey, mode domain.SwapMode, in uint64) *domain.SwapQuote {
	return &domain.SwapQuote{
		Request:  domain.SwapRequest{InputMint: input, SwapMode: mode, SlippageBps: 50},
		InAmount: in,
	}
}

func TestPlanLiquidity(t *testing.T) {
	boost := domain.RebalanceValues{Direction: domain.DirectionBoost, TargetBps: 5000}
	repay := domain.RebalanceValues{Direction: domain.DirectionRepay, TargetBps: 6500}

	tests := []struct {
		name   string
		debt   uint64
		values domain.RebalanceValues
		quote  *domain.SwapQuote
		loan   *domain.FlashLoanDetails
		err    error
	}{
		{
			name:   "boost within own liquidity",
			debt:   289,
			values: boost,
			quote:  quoteFor(usdcMint, domain.SwapModeExactIn, 99_500_000),
		},
		{
			name:   "boost breaching max ltv",
			debt:   289,
			values: boost,
			quote:  quoteFor(usdcMint, domain.SwapModeExactIn, 600_000_000),
			loan:   &domain.FlashLoanDetails{AmountBaseUnit: 600_000_000, Mint: usdcMint},
		},
		{
			name:   "boost beyond reserve",
			debt:   289,
			values: boost,
			quote:  quoteFor(usdcMint, domain.SwapModeExactIn, 6_000_000_000),
			err:    domain.ErrInsufficientLiquidity,
		},
		{
			name:   "boost funded by dca",
			debt:   289,
			values: domain.RebalanceValues{Direction: domain.DirectionBoost, AmountToDcaInBaseUnit: 1_000_000_000},
			quote:  quoteFor(usdcMint, domain.SwapModeExactIn, 600_000_000),
		},
		{
			name:   "repay within own liquidity",
			debt:   760,
			values: repay,
			quote:  quoteFor(solMint, domain.SwapModeExactIn, 100_000_000),
		},
		{
			name:   "repay breaching max ltv",
			debt:   760,
			values: repay,
			quote:  quoteFor(solMint, domain.SwapModeExactIn, 1_000_000_000),
			loan:   &domain.FlashLoanDetails{AmountBaseUnit: 1_000_000_000, Mint: solMint},
		},
		{
			name:   "repay exact out uses max in",
			debt:   760,
			values: repay,
			quote:  quoteFor(solMint, domain.SwapModeExactOut, 1_000_000_000),
			loan:   &domain.FlashLoanDetails{AmountBaseUnit: 1_005_000_000, Mint: solMint},
		},
		{
			name:   "repay emptying supply",
			debt:   10,
			values: repay,
			quote:  quoteFor(solMint, domain.SwapModeExactIn, 10_000_000_000),
			loan:   &domain.FlashLoanDetails{AmountBaseUnit: 10_000_000_000, Mint: solMint},
		},
		{
			name:   "repay beyond supply",
			debt:   760,
			values: repay,
			quote:  quoteFor(solMint, domain.SwapModeExactIn, 11_000_000_000),
			err:    domain.ErrInsufficientLiquidity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan, err := PlanLiquidity(solPosition(t, tt.debt), prices, tt.values, tt.quote)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.loan, loan)
		})
	}
}

func TestPlanLiquidityRequiresQuote(t *testing.T) {
	_, err := PlanLiquidity(solPosition(t, 289), prices, domain.RebalanceValues{}, nil)
	assert.ErrorIs(t, err, domain.ErrPlanningInfeasible)
}
