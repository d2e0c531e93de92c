package txn

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrTransactionTooLarge = errors.New("transaction item does not fit in a single transaction")
	ErrAtomicityViolation  = errors.New("atomic run packed into more than one transaction")
	ErrSubmissionTimeout   = errors.New("transaction was not confirmed before its blockhash expired")
	ErrNetwork             = errors.New("network error")
	ErrRetriesExhausted    = errors.New("retries exhausted")
	ErrNoItems             = errors.New("no transaction items")
	ErrInvalidItemName     = errors.New("invalid transaction item name")
)

// ProgramError is a simulation or execution failure decoded down to the
// failing instruction's program and custom error code.
type ProgramError struct {
	ProgramID        solana.PublicKey `json:"programId"`
	InstructionIndex int              `json:"instructionIndex"`
	Code             uint32           `json:"code"`
	Name             string           `json:"name"`
	Ignorable        bool             `json:"ignorable"`
	Logs             []string         `json:"-"`
}

func (e *ProgramError) Error() string {
	name := e.Name
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("program %s failed at instruction %d: %s (0x%x)", e.ProgramID, e.InstructionIndex, name, e.Code)
}
