package rebalance

import (
	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
)

// AdjustedBoostToBps moves BoostToBps toward TargetBoostToBps by the share of
// the remaining periods that are due. Outside an eligible schedule it returns
// BoostToBps unchanged.
func AdjustedBoostToBps(settings domain.RebalanceSettings, nowUnix int64) uint16 {
	a := settings.Automation
	if !a.Active() || a.Exhausted() || !a.Eligible(nowUnix) {
		return settings.BoostToBps
	}

	due := a.PeriodsDue(nowUnix)
	step := int64(due - a.PeriodsPassed)
	remaining := int64(a.TargetPeriods - a.PeriodsPassed)

	current := int64(settings.BoostToBps)
	distance := int64(settings.TargetBoostToBps) - current
	return uint16(current + distance*step/remaining)
}

// DcaAmountOwed returns the share of DebtToAddBaseUnit due now, amortised evenly
// over the periods left, and the period count it brings the schedule to.
// Repeating this each period drains the amount linearly.
func DcaAmountOwed(dca *domain.DCASettings, nowUnix int64) (uint64, uint16) {
	if !dca.Active() {
		return 0, 0
	}
	a := dca.Automation
	if !a.Eligible(nowUnix) {
		return 0, a.PeriodsPassed
	}

	due := a.PeriodsDue(nowUnix)
	step := uint64(due - a.PeriodsPassed)
	remaining := uint64(a.TargetPeriods - a.PeriodsPassed)
	return fixedpoint.MulDiv(dca.DebtToAddBaseUnit, step, remaining), due
}

// AdvanceSettings returns settings as they stand once a boost planned at
// nowUnix has landed. Repays leave the boost schedule untouched.
func AdvanceSettings(settings domain.RebalanceSettings, values domain.RebalanceValues, nowUnix int64) domain.RebalanceSettings {
	a := settings.Automation
	if !values.IsBoost() || !a.Active() || !a.Eligible(nowUnix) {
		return settings
	}
	out := settings
	out.BoostToBps = AdjustedBoostToBps(settings, nowUnix)
	out.Automation.PeriodsPassed = a.PeriodsDue(nowUnix)
	return out
}

// AdvanceDCA consumes the DCA share carried by values. It returns nil once
// the schedule is exhausted and nothing is owed.
func AdvanceDCA(dca *domain.DCASettings, values domain.RebalanceValues) *domain.DCASettings {
	if dca == nil {
		return nil
	}
	out := *dca
	if values.DcaPeriodsDue > out.Automation.PeriodsPassed {
		out.Automation.PeriodsPassed = values.DcaPeriodsDue
	}
	if values.AmountToDcaInBaseUnit >= out.DebtToAddBaseUnit {
		out.DebtToAddBaseUnit = 0
	} else {
		out.DebtToAddBaseUnit -= values.AmountToDcaInBaseUnit
	}
	if out.DebtToAddBaseUnit == 0 && out.Automation.Exhausted() {
		return nil
	}
	return &out
}
