// Package venue defines what the keeper needs from a lending venue. A venue
// only encodes instructions; it never submits anything.
package venue

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/hxuan190/leverage-keeper/internal/domain"
)

var (
	ErrUnsupportedAction = errors.New("venue does not support action")
	ErrUnknownMint       = errors.New("mint is not a position reserve")
	ErrZeroAmount        = errors.New("action amount is zero")
)

type ActionKind string

const (
	ActionDeposit  ActionKind = "Deposit"
	ActionBorrow   ActionKind = "Borrow"
	ActionRepay    ActionKind = "Repay"
	ActionWithdraw ActionKind = "Withdraw"
)

// Action is one protocol interaction. All repays the whole debt or withdraws
// the whole supply and ignores AmountBaseUnit.
type Action struct {
	Kind           ActionKind `json:"kind"`
	AmountBaseUnit uint64     `json:"amountBaseUnit"`
	All            bool       `json:"all"`
}

func (a Action) Validate() error {
	switch a.Kind {
	case ActionDeposit, ActionBorrow, ActionRepay, ActionWithdraw:
	default:
		return ErrUnsupportedAction
	}
	if a.All && (a.Kind == ActionDeposit || a.Kind == ActionBorrow) {
		return ErrUnsupportedAction
	}
	if !a.All && a.AmountBaseUnit == 0 {
		return ErrZeroAmount
	}
	return nil
}

// Client is the capability set of a lending venue.
type Client interface {
	// Authority is the position owner and fee payer.
	Authority() solana.PublicKey

	// LookupTables are the venue's static tables, declared on every item.
	LookupTables() []solana.PublicKey

	// Refresh returns the instructions that bring the venue's reserves and
	// the position up to date. They must precede any interaction.
	Refresh(ctx context.Context) ([]solana.Instruction, error)

	ProtocolInteraction(action Action) (solana.Instruction, error)

	// FlashBorrow lends details.AmountBaseUnit of details.Mint into the
	// authority's token account.
	FlashBorrow(details domain.FlashLoanDetails) (solana.Instruction, error)

	// FlashRepay closes the loan opened instructionsSinceBorrow instructions
	// earlier in the same transaction.
	FlashRepay(details domain.FlashLoanDetails, instructionsSinceBorrow int) (solana.Instruction, error)

	// FlashRepayAmount is what FlashRepay will pull back, fee included.
	FlashRepayAmount(details domain.FlashLoanDetails) uint64

	domain.PositionProvider
}
