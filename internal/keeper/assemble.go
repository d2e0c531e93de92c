package keeper

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/hxuan190/leverage-keeper/internal/venue"
)

// assemble orders the rebalance instructions.
//
//	no flash loan: refresh, open leg, swap, close leg
//	flash loan:    refresh, flash borrow, swap, close leg, open leg, flash repay
//
// The open leg frees the swap input (borrow on boost, withdraw on repay) and
// the close leg applies the output (deposit on boost, repay on repay). Under a
// flash loan the open leg covers the repayment, fee included.
func (k *Keeper) assemble(ctx context.Context, plan *Plan) ([]solana.Instruction, error) {
	ixs, err := k.venue.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh instructions: %w", err)
	}

	quote := plan.Swap
	values := plan.Values

	openKind, closeKind := venue.ActionWithdraw, venue.ActionRepay
	if values.IsBoost() {
		openKind, closeKind = venue.ActionBorrow, venue.ActionDeposit
	}

	closeAction := venue.Action{Kind: closeKind, AmountBaseUnit: quote.MinimumOut()}
	if !values.IsBoost() && (values.TargetBps == 0 || closeAction.AmountBaseUnit >= plan.Effective.Debt.AmountUsed) {
		closeAction = venue.Action{Kind: venue.ActionRepay, All: true}
	}
	closeIx, err := k.venue.ProtocolInteraction(closeAction)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", closeKind, err)
	}

	if plan.FlashLoan == nil {
		open := quote.MaximumIn()
		if values.IsBoost() {
			// DCA tokens already sit in the wallet.
			if open <= values.AmountToDcaInBaseUnit {
				open = 0
			} else {
				open -= values.AmountToDcaInBaseUnit
			}
		}
		if open > 0 {
			openIx, err := k.venue.ProtocolInteraction(venue.Action{Kind: openKind, AmountBaseUnit: open})
			if err != nil {
				return nil, fmt.Errorf("%s: %w", openKind, err)
			}
			ixs = append(ixs, openIx)
		}
		ixs = append(ixs, quote.Instructions...)
		return append(ixs, closeIx), nil
	}

	loan := *plan.FlashLoan
	borrowIx, err := k.venue.FlashBorrow(loan)
	if err != nil {
		return nil, fmt.Errorf("flash borrow: %w", err)
	}
	openIx, err := k.venue.ProtocolInteraction(venue.Action{Kind: openKind, AmountBaseUnit: k.venue.FlashRepayAmount(loan)})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", openKind, err)
	}

	borrowAt := len(ixs)
	ixs = append(ixs, borrowIx)
	ixs = append(ixs, quote.Instructions...)
	ixs = append(ixs, closeIx, openIx)

	repayIx, err := k.venue.FlashRepay(loan, len(ixs)-borrowAt)
	if err != nil {
		return nil, fmt.Errorf("flash repay: %w", err)
	}
	return append(ixs, repayIx), nil
}
