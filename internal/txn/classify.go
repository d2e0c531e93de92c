package txn

import (
	"context"
	"errors"

	"github.com/hxuan190/leverage-keeper/internal/domain"
)

type errorClass int

const (
	classRetryable errorClass = iota
	classIgnorable
	classFatal
)

func (c errorClass) String() string {
	switch c {
	case classIgnorable:
		return "ignorable"
	case classFatal:
		return "fatal"
	default:
		return "retryable"
	}
}

var fatalErrors = []error{
	ErrTransactionTooLarge,
	ErrAtomicityViolation,
	domain.ErrInsufficientLiquidity,
	context.Canceled,
	context.DeadlineExceeded,
}

// classify decides what the orchestrator does with an error. Caller abort
// errors win over everything, then the fatal taxonomy, then ignorable errors.
// Anything else, including network errors, timeouts and non-ignorable
// program errors, is retried.
func classify(err error, opts Options) errorClass {
	for _, target := range opts.AbortOn {
		if errors.Is(err, target) {
			return classFatal
		}
	}
	for _, target := range fatalErrors {
		if errors.Is(err, target) {
			return classFatal
		}
	}

	if errors.Is(err, domain.ErrPlanningInfeasible) {
		return classIgnorable
	}
	for _, target := range opts.Ignorable {
		if errors.Is(err, target) {
			return classIgnorable
		}
	}
	var pe *ProgramError
	if errors.As(err, &pe) && pe.Ignorable {
		return classIgnorable
	}
	return classRetryable
}
