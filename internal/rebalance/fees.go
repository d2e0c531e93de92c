package rebalance

import (
	"github.com/hxuan190/leverage-keeper/internal/domain"
)

// FeeSchedule is the keeper fee charged against a rebalance, by direction and
// by whether the position was referred.
type FeeSchedule struct {
	BoostBps         uint16 `json:"boostBps" yaml:"boost_bps"`
	RepayBps         uint16 `json:"repayBps" yaml:"repay_bps"`
	ReferredBoostBps uint16 `json:"referredBoostBps" yaml:"referred_boost_bps"`
	ReferredRepayBps uint16 `json:"referredRepayBps" yaml:"referred_repay_bps"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		BoostBps:         50,
		RepayBps:         25,
		ReferredBoostBps: 40,
		ReferredRepayBps: 20,
	}
}

func (f FeeSchedule) FeeBps(direction domain.Direction, referred bool) uint16 {
	switch {
	case direction == domain.DirectionBoost && referred:
		return f.ReferredBoostBps
	case direction == domain.DirectionBoost:
		return f.BoostBps
	case referred:
		return f.ReferredRepayBps
	default:
		return f.RepayBps
	}
}
