// Package rebalance computes how far a leveraged position has to move to get
// back inside its settings band. Everything here is a pure function of the
// planning context: the same inputs always produce the same values.
package rebalance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
)

// usdPrecision is the number of decimal places kept on USD outputs.
const usdPrecision = 9

type PlanOptions struct {
	// TargetBps overrides the settings band when set.
	TargetBps *uint16
	Fees      FeeSchedule
}

type target struct {
	bps           uint16
	dcaBaseUnit   uint64
	dcaPeriodsDue uint16
}

// Plan returns the adjustment that brings the effective position to its target
// liquidation-utilization rate.
func Plan(pctx domain.PlanningContext, opts PlanOptions) (domain.RebalanceValues, error) {
	pctx, err := pctx.Effective()
	if err != nil {
		return domain.RebalanceValues{}, err
	}

	tgt, err := resolveTarget(pctx, opts.TargetBps)
	if err != nil {
		return domain.RebalanceValues{}, err
	}

	state := pctx.State
	rate := state.LiqUtilizationRateBps

	dcaUsd := fixedpoint.UsdValue(tgt.dcaBaseUnit, state.Debt.Decimals, pctx.Prices.Debt)

	direction := domain.DirectionRepay
	if dcaUsd.IsPositive() || rate < tgt.bps {
		direction = domain.DirectionBoost
	}

	var feeBps uint16
	if tgt.bps != 0 {
		feeBps = opts.Fees.FeeBps(direction, pctx.Referred)
	}

	adjustment, err := DebtAdjustmentUsd(
		state.Supply.AmountUsedUsd.Add(dcaUsd),
		state.Debt.AmountUsedUsd,
		state.LiqThresholdBps,
		tgt.bps,
		feeBps,
	)
	if err != nil {
		return domain.RebalanceValues{}, err
	}

	maxRepayTo := fixedpoint.MaxLiqUtilizationRateBps(state.MaxLtvBps, state.LiqThresholdBps, 0)

	return domain.RebalanceValues{
		Direction:             direction,
		TargetBps:             tgt.bps,
		DebtAdjustmentUsd:     adjustment,
		AmountUsdToDcaIn:      dcaUsd.Round(usdPrecision),
		AmountToDcaInBaseUnit: tgt.dcaBaseUnit,
		DcaPeriodsDue:         tgt.dcaPeriodsDue,
		FeeBps:                feeBps,
		FeesUsd:               adjustment.Abs().Mul(fixedpoint.FromBps(uint64(feeBps))).Round(usdPrecision),
		RepayingCloseToMaxLtv: direction == domain.DirectionRepay && maxRepayTo < tgt.bps && rate > maxRepayTo,
	}, nil
}

func resolveTarget(pctx domain.PlanningContext, explicit *uint16) (target, error) {
	if explicit != nil {
		return target{bps: *explicit}, nil
	}

	settings := pctx.Settings
	if err := settings.Validate(); err != nil {
		return target{}, err
	}

	now := pctx.NowUnix()
	rate := int(pctx.State.LiqUtilizationRateBps)

	if pctx.DCA.Active() && pctx.DCA.Automation.Eligible(now) && rate < settings.RepayTrigger() {
		owed, due := DcaAmountOwed(pctx.DCA, now)
		bps := AdjustedBoostToBps(settings, now)
		if pctx.State.LiqUtilizationRateBps > bps {
			bps = pctx.State.LiqUtilizationRateBps
		}
		return target{bps: bps, dcaBaseUnit: owed, dcaPeriodsDue: due}, nil
	}

	switch {
	case rate <= settings.BoostTrigger():
		return target{bps: AdjustedBoostToBps(settings, now)}, nil
	case rate >= settings.RepayTrigger():
		return target{bps: settings.RepayToBps}, nil
	default:
		return target{}, fmt.Errorf("%w: rate %d inside (%d, %d)", ErrInvalidRebalanceCondition, rate, settings.BoostTrigger(), settings.RepayTrigger())
	}
}

// DebtAdjustmentUsd solves (D + x) / ((S + x(1-fee)) * LT) = target for x.
// A positive result grows debt, a negative one shrinks it.
func DebtAdjustmentUsd(supplyUsd, debtUsd decimal.Decimal, liqThresholdBps, targetBps, feeBps uint16) (decimal.Decimal, error) {
	t := fixedpoint.FromBps(uint64(targetBps))
	lt := fixedpoint.FromBps(uint64(liqThresholdBps))
	keep := decimal.NewFromInt(1).Sub(fixedpoint.FromBps(uint64(feeBps)))

	denominator := decimal.NewFromInt(1).Sub(t.Mul(keep).Mul(lt))
	if denominator.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: target %d bps at threshold %d bps", ErrTargetUnreachable, targetBps, liqThresholdBps)
	}

	numerator := t.Mul(supplyUsd).Mul(lt).Sub(debtUsd)
	return numerator.Div(denominator).Round(usdPrecision), nil
}
