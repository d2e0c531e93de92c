package priority

import (
	"context"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/leverage-keeper/internal/metrics"
)

// ComputeBudgetProgramID is the compute budget program address
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	DefaultComputeUnits = 200000
	ComputeUnitBuffer   = 1.1
	MaxComputeUnits     = 1400000

	// maxFeeAccounts limits the accounts sent to the fee RPC
	maxFeeAccounts = 8
)

// UnitsWithBuffer adds 10% headroom to simulated units, capped at the
// transaction maximum. Zero means the simulation reported nothing.
func UnitsWithBuffer(unitsConsumed uint64) uint32 {
	if unitsConsumed == 0 {
		unitsConsumed = DefaultComputeUnits
	}
	units := uint64(float64(unitsConsumed) * ComputeUnitBuffer)
	if units > MaxComputeUnits {
		return MaxComputeUnits
	}
	return uint32(units)
}

// Budget prepends compute unit limit and price instructions to every
// keeper transaction.
type Budget struct {
	fees        *FeeCalculator
	urgency     Urgency
	maxFeePerCU uint64
}

func NewBudget(fees *FeeCalculator, urgency Urgency, maxFeePerCU uint64) *Budget {
	return &Budget{fees: fees, urgency: urgency, maxFeePerCU: maxFeePerCU}
}

// Placeholder has the same encoded size as the final budget instructions so a
// set sized with it still fits once the real values are known.
func (b *Budget) Placeholder() []solana.Instruction {
	return []solana.Instruction{
		NewSetComputeUnitLimitInstruction(MaxComputeUnits),
		NewSetComputeUnitPriceInstruction(0),
	}
}

func (b *Budget) Instructions(ctx context.Context, unitsConsumed uint64, writable []solana.PublicKey) []solana.Instruction {
	if len(writable) > maxFeeAccounts {
		writable = writable[:maxFeeAccounts]
	}
	units := UnitsWithBuffer(unitsConsumed)
	fee := b.fees.GetOptimalFee(ctx, b.urgency, writable)

	feePerCU := fee.FeePerCU
	if b.maxFeePerCU > 0 && feePerCU > b.maxFeePerCU {
		feePerCU = b.maxFeePerCU
	}

	metrics.ComputeUnits.Observe(float64(unitsConsumed))
	metrics.PriorityFee.Set(float64(feePerCU))
	log.Debug().
		Uint32("units", units).
		Uint64("fee_per_cu", feePerCU).
		Int("samples", fee.SampleCount).
		Msg("[Budget] compute budget")

	return []solana.Instruction{
		NewSetComputeUnitLimitInstruction(units),
		NewSetComputeUnitPriceInstruction(feePerCU),
	}
}

// SetComputeUnitLimitInstruction sets the compute unit limit
type SetComputeUnitLimitInstruction struct {
	Units uint32
}

func NewSetComputeUnitLimitInstruction(units uint32) *SetComputeUnitLimitInstruction {
	return &SetComputeUnitLimitInstruction{Units: units}
}

func (ix *SetComputeUnitLimitInstruction) ProgramID() solana.PublicKey {
	return ComputeBudgetProgramID
}

func (ix *SetComputeUnitLimitInstruction) Accounts() []*solana.AccountMeta {
	return nil
}

func (ix *SetComputeUnitLimitInstruction) Data() ([]byte, error) {
	data := make([]byte, 5)
	data[0] = 2 // SetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], ix.Units)
	return data, nil
}

// SetComputeUnitPriceInstruction sets the compute unit price
type SetComputeUnitPriceInstruction struct {
	MicroLamports uint64
}

func NewSetComputeUnitPriceInstruction(microLamports uint64) *SetComputeUnitPriceInstruction {
	return &SetComputeUnitPriceInstruction{MicroLamports: microLamports}
}

func (ix *SetComputeUnitPriceInstruction) ProgramID() solana.PublicKey {
	return ComputeBudgetProgramID
}

func (ix *SetComputeUnitPriceInstruction) Accounts() []*solana.AccountMeta {
	return nil
}

func (ix *SetComputeUnitPriceInstruction) Data() ([]byte, error) {
	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], ix.MicroLamports)
	return data, nil
}
