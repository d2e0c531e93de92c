package rebalance

import (
	"fmt"

	"github.com/hxuan190/leverage-keeper/internal/domain"
)

var (
	ErrInvalidRebalanceCondition = fmt.Errorf("%w: invalid rebalance condition", domain.ErrPlanningInfeasible)
	ErrTargetUnreachable         = fmt.Errorf("%w: target rate unreachable", domain.ErrPlanningInfeasible)
)
