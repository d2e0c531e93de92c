package domain

import (
	"github.com/gagliardetto/solana-go"
)

type SwapMode string

const (
	SwapModeExactIn  SwapMode = "ExactIn"
	SwapModeExactOut SwapMode = "ExactOut"
)

// SwapRequest is what the planner asks the swap provider to quote. Amount is the
// input amount for ExactIn and the output amount for ExactOut, in base units.
type SwapRequest struct {
	UserWallet solana.PublicKey `json:"userWallet"`

	InputMint solana.PublicKey `json:"inputMint"`

	OutputMint solana.PublicKey `json:"outputMint"`

	Amount uint64 `json:"amount"`

	SwapMode SwapMode `json:"swapMode"`

	SlippageBps uint16 `json:"slippageBps"`
}

func (r SwapRequest) ExactOut() bool {
	return r.SwapMode == SwapModeExactOut
}
