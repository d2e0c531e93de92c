package domain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionBoost Direction = "Boost"
	DirectionRepay Direction = "Repay"
)

// RebalanceValues is the output of one planning pass. It is never stored.
type RebalanceValues struct {
	Direction Direction `json:"direction"`
	TargetBps uint16    `json:"targetBps"`

	// DebtAdjustmentUsd is positive when debt grows (boost) and negative when it shrinks.
	DebtAdjustmentUsd decimal.Decimal `json:"debtAdjustmentUsd"`

	AmountUsdToDcaIn      decimal.Decimal `json:"amountUsdToDcaIn"`
	AmountToDcaInBaseUnit uint64          `json:"amountToDcaInBaseUnit"`

	// DcaPeriodsDue is the schedule position this plan consumes, zero outside the DCA path.
	DcaPeriodsDue uint16 `json:"dcaPeriodsDue"`

	FeeBps  uint16          `json:"feeBps"`
	FeesUsd decimal.Decimal `json:"feesUsd"`

	RepayingCloseToMaxLtv bool `json:"repayingCloseToMaxLtv"`
}

func (v RebalanceValues) IsBoost() bool {
	return v.Direction == DirectionBoost
}

// FlashLoanDetails is set only when the position cannot bridge the swap itself.
type FlashLoanDetails struct {
	AmountBaseUnit uint64           `json:"amountBaseUnit"`
	Mint           solana.PublicKey `json:"mint"`
}
