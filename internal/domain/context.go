package domain

import (
	"time"
)

// PlanningContext carries everything one planning pass needs. A new one is
// built for every producer invocation; nothing in it outlives the run.
type PlanningContext struct {
	State    PositionState
	Prices   Prices
	Now      time.Time
	Settings RebalanceSettings
	DCA      *DCASettings
	Referred bool
	Pending  PendingLog
}

func (c PlanningContext) NowUnix() int64 {
	return c.Now.Unix()
}

// Effective returns a copy with the pending log folded into state and settings.
func (c PlanningContext) Effective() (PlanningContext, error) {
	if c.Pending.Len() == 0 {
		return c, nil
	}
	state, err := c.Pending.Effective(c.State, c.Prices)
	if err != nil {
		return PlanningContext{}, err
	}
	out := c
	out.State = state
	out.Settings = c.Pending.EffectiveSettings(c.Settings)
	out.DCA = c.Pending.EffectiveDCA(c.DCA)
	out.Pending = PendingLog{}
	return out, nil
}
