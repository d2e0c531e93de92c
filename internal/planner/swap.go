// Package planner turns rebalance values into a concrete swap and decides
// whether the position needs a flash loan to bridge it.
package planner

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
)

// SwapProvider quotes a swap and returns the instructions that execute it.
type SwapProvider interface {
	Quote(ctx context.Context, req domain.SwapRequest) (*domain.SwapQuote, error)
}

type SwapConfig struct {
	BaseSlippageBps uint16
	MaxSlippageBps  uint16
}

func DefaultSwapConfig() SwapConfig {
	return SwapConfig{BaseSlippageBps: 30, MaxSlippageBps: 300}
}

// SlippageBps widens the base tolerance by 20% per retry, capped at MaxSlippageBps.
func (c SwapConfig) SlippageBps(attempt int) uint16 {
	if attempt < 0 {
		attempt = 0
	}
	bps := uint64(c.BaseSlippageBps) * uint64(10+2*attempt) / 10
	if c.MaxSlippageBps > 0 && bps > uint64(c.MaxSlippageBps) {
		return c.MaxSlippageBps
	}
	if bps > fixedpoint.MaxBps {
		return fixedpoint.MaxBps
	}
	return uint16(bps)
}

// PlanSwap builds the swap request for values. Boost swaps debt into supply,
// repay swaps supply into debt. Full unwinds and repays close to max LTV are
// quoted exact-out so the debt side is never overshot.
func PlanSwap(user solana.PublicKey, state domain.PositionState, prices domain.Prices, values domain.RebalanceValues, attempt int, cfg SwapConfig) (domain.SwapRequest, error) {
	req := domain.SwapRequest{
		UserWallet:  user,
		SwapMode:    domain.SwapModeExactIn,
		SlippageBps: cfg.SlippageBps(attempt),
	}
	if values.TargetBps == 0 || values.RepayingCloseToMaxLtv {
		req.SwapMode = domain.SwapModeExactOut
	}

	var err error
	if values.IsBoost() {
		req.InputMint, req.OutputMint = state.Debt.Mint, state.Supply.Mint
		req.Amount, err = boostInput(state, prices, values)
	} else {
		req.InputMint, req.OutputMint = state.Supply.Mint, state.Debt.Mint
		req.Amount, err = repayAmount(state, prices, values, req.ExactOut())
	}
	if err != nil {
		return domain.SwapRequest{}, err
	}
	if req.Amount == 0 {
		return domain.SwapRequest{}, fmt.Errorf("%w: swap amount rounds to zero", domain.ErrPlanningInfeasible)
	}
	return req, nil
}

// boostInput is the borrowed debt net of fees plus any DCA tokens.
func boostInput(state domain.PositionState, prices domain.Prices, values domain.RebalanceValues) (uint64, error) {
	usd := values.DebtAdjustmentUsd.Mul(decimal.NewFromInt(1).Sub(fixedpoint.FromBps(uint64(values.FeeBps))))
	borrow, err := fixedpoint.UsdToBaseUnit(usd, state.Debt.Decimals, prices.Debt)
	if err != nil {
		return 0, err
	}
	return borrow + values.AmountToDcaInBaseUnit, nil
}

func repayAmount(state domain.PositionState, prices domain.Prices, values domain.RebalanceValues, exactOut bool) (uint64, error) {
	if !exactOut {
		return fixedpoint.UsdToBaseUnit(values.DebtAdjustmentUsd, state.Supply.Decimals, prices.Supply)
	}
	if values.TargetBps == 0 {
		return state.Debt.AmountUsed, nil
	}
	debt, err := fixedpoint.UsdToBaseUnit(values.DebtAdjustmentUsd, state.Debt.Decimals, prices.Debt)
	if err != nil {
		return 0, err
	}
	if debt > state.Debt.AmountUsed {
		debt = state.Debt.AmountUsed
	}
	return debt, nil
}
