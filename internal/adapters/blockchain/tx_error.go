package blockchain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/hxuan190/leverage-keeper/internal/txn"
)

var ErrTransactionFailed = errors.New("transaction failed")

// DecodeTransactionError turns the err field of a simulation or signature
// status into an error. Custom program errors become *txn.ProgramError
// resolved through registry; everything else wraps ErrTransactionFailed.
func DecodeTransactionError(registry *txn.ErrorRegistry, tx *solana.Transaction, txErr interface{}, logs []string) error {
	if txErr == nil {
		return nil
	}

	obj, ok := txErr.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, txErr)
	}
	raw, ok := obj["InstructionError"]
	if !ok {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, txErr)
	}
	pair, ok := raw.([]interface{})
	if !ok || len(pair) != 2 {
		return fmt.Errorf("%w: malformed instruction error %v", ErrTransactionFailed, raw)
	}

	index, ok := asUint64(pair[0])
	if !ok {
		return fmt.Errorf("%w: malformed instruction index %v", ErrTransactionFailed, pair[0])
	}
	program := programAt(tx, int(index))

	detail, ok := pair[1].(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: instruction %d (%s): %v", ErrTransactionFailed, index, program, pair[1])
	}
	custom, ok := detail["Custom"]
	if !ok {
		return fmt.Errorf("%w: instruction %d (%s): %v", ErrTransactionFailed, index, program, detail)
	}
	code, ok := asUint64(custom)
	if !ok {
		return fmt.Errorf("%w: malformed custom code %v", ErrTransactionFailed, custom)
	}

	return registry.Decode(program, int(index), uint32(code), logs)
}

func programAt(tx *solana.Transaction, index int) solana.PublicKey {
	if tx == nil || index < 0 || index >= len(tx.Message.Instructions) {
		return solana.PublicKey{}
	}
	keyIndex := int(tx.Message.Instructions[index].ProgramIDIndex)
	if keyIndex >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}
	}
	return tx.Message.AccountKeys[keyIndex]
}

func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return uint64(i), true
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	default:
		return 0, false
	}
}
