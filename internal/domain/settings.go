package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOverlappingBands = errors.New("repay trigger must exceed boost trigger")
	ErrInvalidSchedule  = errors.New("automation schedule is invalid")
)

// AutomationSchedule spreads a change over TargetPeriods intervals.
// Period k (1-based) becomes due at UnixStartDate + k*IntervalSeconds.
type AutomationSchedule struct {
	TargetPeriods   uint16 `json:"targetPeriods" yaml:"target_periods"`
	PeriodsPassed   uint16 `json:"periodsPassed" yaml:"periods_passed"`
	UnixStartDate   int64  `json:"unixStartDate" yaml:"unix_start_date"`
	IntervalSeconds int64  `json:"intervalSeconds" yaml:"interval_seconds"`
}

func (a AutomationSchedule) Active() bool {
	return a.TargetPeriods > 0
}

func (a AutomationSchedule) Exhausted() bool {
	return a.PeriodsPassed >= a.TargetPeriods
}

func (a AutomationSchedule) Validate() error {
	if !a.Active() {
		return nil
	}
	if a.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	}
	if a.PeriodsPassed > a.TargetPeriods {
		return fmt.Errorf("%w: %d periods passed of %d", ErrInvalidSchedule, a.PeriodsPassed, a.TargetPeriods)
	}
	return nil
}

// PeriodsDue returns min(TargetPeriods, PeriodsPassed + floor((now-anchor)/interval))
// where anchor is the due time of the last consumed period.
func (a AutomationSchedule) PeriodsDue(nowUnix int64) uint16 {
	if !a.Active() || a.IntervalSeconds <= 0 || a.Exhausted() {
		return a.PeriodsPassed
	}
	anchor := a.UnixStartDate + int64(a.PeriodsPassed)*a.IntervalSeconds
	if nowUnix < anchor {
		return a.PeriodsPassed
	}
	due := int64(a.PeriodsPassed) + (nowUnix-anchor)/a.IntervalSeconds
	if due > int64(a.TargetPeriods) {
		return a.TargetPeriods
	}
	return uint16(due)
}

// Eligible reports whether at least one new period is due.
func (a AutomationSchedule) Eligible(nowUnix int64) bool {
	return a.Active() && a.PeriodsDue(nowUnix) > a.PeriodsPassed
}

// RebalanceSettings are the user's risk thresholds, all in bps of the
// liquidation-utilization rate.
type RebalanceSettings struct {
	BoostToBps uint16 `json:"boostToBps" yaml:"boost_to_bps"`
	BoostGap   uint16 `json:"boostGap" yaml:"boost_gap"`
	RepayToBps uint16 `json:"repayToBps" yaml:"repay_to_bps"`
	RepayGap   uint16 `json:"repayGap" yaml:"repay_gap"`

	// TargetBoostToBps is where BoostToBps converges while Automation runs.
	TargetBoostToBps uint16             `json:"targetBoostToBps" yaml:"target_boost_to_bps"`
	Automation       AutomationSchedule `json:"automation" yaml:"automation"`
}

// BoostTrigger is the rate at or below which a boost is due.
func (s RebalanceSettings) BoostTrigger() int {
	return int(s.BoostToBps) - int(s.BoostGap)
}

// RepayTrigger is the rate at or above which a repay is due.
func (s RebalanceSettings) RepayTrigger() int {
	return int(s.RepayToBps) + int(s.RepayGap)
}

func (s RebalanceSettings) Validate() error {
	if s.RepayTrigger() <= s.BoostTrigger() {
		return fmt.Errorf("%w: repay %d, boost %d", ErrOverlappingBands, s.RepayTrigger(), s.BoostTrigger())
	}
	return s.Automation.Validate()
}

// DCASettings add debt gradually; DebtToAddBaseUnit is what is still owed.
type DCASettings struct {
	DebtToAddBaseUnit uint64             `json:"debtToAddBaseUnit" yaml:"debt_to_add_base_unit"`
	Automation        AutomationSchedule `json:"automation" yaml:"automation"`
}

func (d *DCASettings) Active() bool {
	return d != nil && d.Automation.Active() && !d.Automation.Exhausted()
}
