package domain

import "errors"

// Planning errors shared by the calculator, the planner and the orchestrator.
var (
	// ErrPlanningInfeasible means no action is warranted right now. Callers
	// report it as skipped and never retry it.
	ErrPlanningInfeasible = errors.New("planning infeasible")

	// ErrInsufficientLiquidity means the venue cannot supply what the plan
	// needs, even with a flash loan.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)
