package domain

import (
	"errors"
)

var ErrPendingUnderflow = errors.New("pending delta exceeds position balance")

// Delta is one unconfirmed change to the position or its settings.
type Delta struct {
	SupplyBaseUnit int64              `json:"supplyBaseUnit"`
	DebtBaseUnit   int64              `json:"debtBaseUnit"`
	Settings       *RebalanceSettings `json:"settings,omitempty"`
	DCA            *DCASettings       `json:"dca,omitempty"`
}

// PendingLog is an append-only list of deltas not yet confirmed on-chain.
// Append returns a new log and never mutates the receiver, so a log captured
// by a producer stays valid across retries. The owner swaps in an empty log
// once the transactions carrying the deltas have landed.
type PendingLog struct {
	deltas []Delta
}

func (l PendingLog) Append(d Delta) PendingLog {
	next := make([]Delta, len(l.deltas), len(l.deltas)+1)
	copy(next, l.deltas)
	return PendingLog{deltas: append(next, d)}
}

func (l PendingLog) Len() int {
	return len(l.deltas)
}

func (l PendingLog) Deltas() []Delta {
	out := make([]Delta, len(l.deltas))
	copy(out, l.deltas)
	return out
}

// Effective folds the balance deltas into state. The result is marked derived
// so it is never mistaken for a fresh snapshot.
func (l PendingLog) Effective(state PositionState, prices Prices) (PositionState, error) {
	if len(l.deltas) == 0 {
		return state, nil
	}

	supply := int64(state.Supply.AmountUsed)
	debt := int64(state.Debt.AmountUsed)
	for _, d := range l.deltas {
		supply += d.SupplyBaseUnit
		debt += d.DebtBaseUnit
	}
	if supply < 0 || debt < 0 {
		return PositionState{}, ErrPendingUnderflow
	}

	// withdrawable supply never exceeds what remains supplied
	available := min(state.Supply.AmountCanBeUsed, uint64(supply))
	return state.WithBalances(uint64(supply), available, uint64(debt), state.Debt.AmountCanBeUsed, prices)
}

// EffectiveSettings returns the latest pending settings, or base when none are queued.
func (l PendingLog) EffectiveSettings(base RebalanceSettings) RebalanceSettings {
	for i := len(l.deltas) - 1; i >= 0; i-- {
		if l.deltas[i].Settings != nil {
			return *l.deltas[i].Settings
		}
	}
	return base
}

// EffectiveDCA returns the latest pending DCA, or base when none is queued.
func (l PendingLog) EffectiveDCA(base *DCASettings) *DCASettings {
	for i := len(l.deltas) - 1; i >= 0; i-- {
		if l.deltas[i].DCA != nil {
			dca := *l.deltas[i].DCA
			return &dca
		}
	}
	return base
}
