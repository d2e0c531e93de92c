package domain

import (
	"github.com/gagliardetto/solana-go"

	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
)

// SwapQuote is the provider's answer. Instructions are opaque to the keeper;
// only the amounts are used for accounting.
type SwapQuote struct {
	Request        SwapRequest          `json:"request"`
	InAmount       uint64               `json:"inAmount"`
	OutAmount      uint64               `json:"outAmount"`
	PriceImpactBps uint16               `json:"priceImpactBps"`
	Instructions   []solana.Instruction `json:"-"`
	LookupTables   []solana.PublicKey   `json:"lookupTables"`
}

// MinimumOut is the output floor an exact-in swap accepts.
func (q *SwapQuote) MinimumOut() uint64 {
	if q.Request.ExactOut() {
		return q.OutAmount
	}
	return fixedpoint.SubtractBps(q.OutAmount, uint64(q.Request.SlippageBps))
}

// MaximumIn is the input ceiling an exact-out swap accepts.
func (q *SwapQuote) MaximumIn() uint64 {
	if !q.Request.ExactOut() {
		return q.InAmount
	}
	return fixedpoint.AddBps(q.InAmount, uint64(q.Request.SlippageBps))
}
