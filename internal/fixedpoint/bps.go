// Package fixedpoint holds the basis-point and base-unit arithmetic shared by the
// planner and the transaction layer. Integer results always truncate toward zero.
package fixedpoint

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// BpsDenom is 100% expressed in basis points
	BpsDenom = 10_000
	// MaxBps is the largest value a bps field may carry
	MaxBps = 65_535
)

var (
	u256BpsDenom = uint256.NewInt(BpsDenom)

	// DecBpsDenom is BpsDenom as a decimal
	DecBpsDenom = decimal.NewFromInt(BpsDenom)
)

var uint256Pool = sync.Pool{
	New: func() interface{} {
		return new(uint256.Int)
	},
}

func getU256() *uint256.Int {
	return uint256Pool.Get().(*uint256.Int)
}

func putU256(v *uint256.Int) {
	v.Clear()
	uint256Pool.Put(v)
}

// MulDiv performs (a * b) / c with a 256-bit intermediate.
// Returns 0 when c is zero; saturates at MaxUint64.
func MulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	result := getU256()
	temp := getU256()
	defer func() {
		putU256(result)
		putU256(temp)
	}()

	result.SetUint64(a)
	temp.SetUint64(b)
	result.Mul(result, temp)
	temp.SetUint64(c)
	result.Div(result, temp)

	if result.IsUint64() {
		return result.Uint64()
	}
	return ^uint64(0)
}

// ApplyBps returns amount * bps / 10000.
func ApplyBps(amount uint64, bps uint64) uint64 {
	return MulDiv(amount, bps, BpsDenom)
}

// SubtractBps returns amount * (10000 - bps) / 10000, floored at zero.
func SubtractBps(amount uint64, bps uint64) uint64 {
	if bps >= BpsDenom {
		return 0
	}
	return MulDiv(amount, BpsDenom-bps, BpsDenom)
}

// AddBps returns amount * (10000 + bps) / 10000.
func AddBps(amount uint64, bps uint64) uint64 {
	v := getU256()
	defer putU256(v)

	v.SetUint64(amount)
	v.Mul(v, uint256.NewInt(BpsDenom+bps))
	v.Div(v, u256BpsDenom)
	if v.IsUint64() {
		return v.Uint64()
	}
	return ^uint64(0)
}

// FromBps converts basis points to a fraction, 2500 -> 0.25.
func FromBps(bps uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Div(DecBpsDenom)
}

// ToBps converts a fraction to basis points, truncating toward zero.
// Negative inputs return 0 and values above MaxBps saturate.
func ToBps(fraction decimal.Decimal) uint16 {
	if fraction.Sign() <= 0 {
		return 0
	}
	bps := fraction.Mul(DecBpsDenom).Truncate(0)
	if bps.GreaterThan(decimal.NewFromInt(MaxBps)) {
		return MaxBps
	}
	return uint16(bps.IntPart())
}

// LiqUtilizationRateBps returns debtUsd / (supplyUsd * liqThreshold) in bps.
// A position with debt but no supply reports MaxBps.
func LiqUtilizationRateBps(supplyUsd, debtUsd decimal.Decimal, liqThresholdBps uint16) uint16 {
	if debtUsd.Sign() <= 0 {
		return 0
	}
	weighted := supplyUsd.Mul(FromBps(uint64(liqThresholdBps)))
	if weighted.Sign() <= 0 {
		return MaxBps
	}
	return ToBps(debtUsd.Div(weighted))
}

// MaxLiqUtilizationRateBps converts a max-LTV (minus offsetBps of margin) into
// the liquidation-utilization rate it corresponds to.
func MaxLiqUtilizationRateBps(maxLtvBps, liqThresholdBps, offsetBps uint16) uint16 {
	if liqThresholdBps == 0 || offsetBps >= maxLtvBps {
		return 0
	}
	return ToBps(FromBps(uint64(maxLtvBps - offsetBps)).Div(FromBps(uint64(liqThresholdBps))))
}
