package planner

import (
	"fmt"

	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
)

// FlashLoanMarginBps is kept between the intermediary rate and max LTV.
const FlashLoanMarginBps = 100

// PlanLiquidity checks the intermediary state of the rebalance (boost borrows
// first, repay withdraws first) and returns flash loan details when the
// position cannot carry that state itself. A nil result means no flash loan.
func PlanLiquidity(state domain.PositionState, prices domain.Prices, values domain.RebalanceValues, quote *domain.SwapQuote) (*domain.FlashLoanDetails, error) {
	if quote == nil {
		return nil, fmt.Errorf("%w: missing swap quote", domain.ErrPlanningInfeasible)
	}

	input := quote.MaximumIn()
	supply, debt := state.Supply.AmountUsed, state.Debt.AmountUsed

	var loan uint64
	if values.IsBoost() {
		borrow := input
		if values.AmountToDcaInBaseUnit >= borrow {
			return nil, nil
		}
		borrow -= values.AmountToDcaInBaseUnit
		if borrow > state.Debt.AmountCanBeUsed {
			return nil, fmt.Errorf("%w: borrow %d, available %d", domain.ErrInsufficientLiquidity, borrow, state.Debt.AmountCanBeUsed)
		}
		debt += borrow
		loan = borrow
	} else {
		if input > supply || input > state.Supply.AmountCanBeUsed {
			return nil, fmt.Errorf("%w: withdraw %d, supplied %d, available %d", domain.ErrInsufficientLiquidity, input, supply, state.Supply.AmountCanBeUsed)
		}
		supply -= input
		loan = input
	}

	if supply > 0 {
		intermediary, err := state.WithBalances(supply, state.Supply.AmountCanBeUsed, debt, state.Debt.AmountCanBeUsed, prices)
		if err != nil {
			return nil, err
		}
		limit := fixedpoint.MaxLiqUtilizationRateBps(state.MaxLtvBps, state.LiqThresholdBps, FlashLoanMarginBps)
		if intermediary.LiqUtilizationRateBps <= limit {
			return nil, nil
		}
	}

	return &domain.FlashLoanDetails{
		AmountBaseUnit: loan,
		Mint:           quote.Request.InputMint,
	}, nil
}
