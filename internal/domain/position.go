package domain

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
)

var (
	ErrStaleState     = errors.New("position state is stale")
	ErrInvalidPrices  = errors.New("supply and debt prices must be positive")
	ErrInvalidLtvBand = errors.New("max ltv must not exceed the liquidation threshold")
)

// TokenUsage describes one side (supply or debt) of a position.
type TokenUsage struct {
	Mint     solana.PublicKey `json:"mint"`
	Decimals uint8            `json:"decimals"`

	// AmountUsed is the supplied (or borrowed) amount in base units.
	AmountUsed uint64 `json:"amountUsed"`

	// AmountCanBeUsed is what the venue can still provide: withdrawable supply,
	// borrowable debt liquidity.
	AmountCanBeUsed uint64 `json:"amountCanBeUsed"`

	AmountUsedUsd      decimal.Decimal `json:"amountUsedUsd"`
	AmountCanBeUsedUsd decimal.Decimal `json:"amountCanBeUsedUsd"`
}

func (u TokenUsage) priced(price decimal.Decimal) TokenUsage {
	u.AmountUsedUsd = fixedpoint.UsdValue(u.AmountUsed, u.Decimals, price)
	u.AmountCanBeUsedUsd = fixedpoint.UsdValue(u.AmountCanBeUsed, u.Decimals, price)
	return u
}

// Prices are the USD prices of one supply and one debt token.
type Prices struct {
	Supply decimal.Decimal `json:"supply"`
	Debt   decimal.Decimal `json:"debt"`
}

func (p Prices) Validate() error {
	if !p.Supply.IsPositive() || !p.Debt.IsPositive() {
		return ErrInvalidPrices
	}
	return nil
}

// PositionState is an immutable snapshot of a leveraged position. It is only
// built through NewPositionState or WithBalances so LiqUtilizationRateBps always
// matches the balances and prices it was computed from.
type PositionState struct {
	Supply TokenUsage `json:"supply"`
	Debt   TokenUsage `json:"debt"`

	NetWorthUsd           decimal.Decimal `json:"netWorthUsd"`
	LiqUtilizationRateBps uint16          `json:"liqUtilizationRateBps"`
	MaxLtvBps             uint16          `json:"maxLtvBps"`
	LiqThresholdBps       uint16          `json:"liqThresholdBps"`
	LastUpdated           int64           `json:"lastUpdated"`

	// Derived is set when the state includes unconfirmed live adjustments.
	Derived bool `json:"derived"`
}

// NewPositionState prices both sides and computes the utilization rate.
func NewPositionState(supply, debt TokenUsage, prices Prices, maxLtvBps, liqThresholdBps uint16, lastUpdated int64) (PositionState, error) {
	if err := prices.Validate(); err != nil {
		return PositionState{}, err
	}
	if maxLtvBps > liqThresholdBps {
		return PositionState{}, ErrInvalidLtvBand
	}

	s := PositionState{
		Supply:          supply.priced(prices.Supply),
		Debt:            debt.priced(prices.Debt),
		MaxLtvBps:       maxLtvBps,
		LiqThresholdBps: liqThresholdBps,
		LastUpdated:     lastUpdated,
	}
	s.recompute()
	return s, nil
}

func (s *PositionState) recompute() {
	s.NetWorthUsd = s.Supply.AmountUsedUsd.Sub(s.Debt.AmountUsedUsd)
	s.LiqUtilizationRateBps = fixedpoint.LiqUtilizationRateBps(s.Supply.AmountUsedUsd, s.Debt.AmountUsedUsd, s.LiqThresholdBps)
}

// WithBalances returns a copy with new used/available amounts, re-priced and
// marked derived.
func (s PositionState) WithBalances(supplyUsed, supplyAvailable, debtUsed, debtAvailable uint64, prices Prices) (PositionState, error) {
	if err := prices.Validate(); err != nil {
		return PositionState{}, err
	}
	next := s
	next.Supply.AmountUsed = supplyUsed
	next.Supply.AmountCanBeUsed = supplyAvailable
	next.Debt.AmountUsed = debtUsed
	next.Debt.AmountCanBeUsed = debtAvailable
	next.Supply = next.Supply.priced(prices.Supply)
	next.Debt = next.Debt.priced(prices.Debt)
	next.Derived = true
	next.recompute()
	return next, nil
}

// IsStale reports whether the snapshot must be refreshed before it is relied on.
func (s PositionState) IsStale(now time.Time, window time.Duration) bool {
	if s.Derived {
		return true
	}
	return now.Sub(time.Unix(s.LastUpdated, 0)) > window
}

// PositionProvider returns live position data. Implementations return
// ErrStaleState when they cannot produce a snapshot inside their freshness window.
type PositionProvider interface {
	FreshState(ctx context.Context) (PositionState, Prices, error)
}
