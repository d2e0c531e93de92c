package lending

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var ErrInvalidConfig = errors.New("invalid lending venue config")

// Reserve holds the static addresses of one reserve. Decimals and prices are
// read from the reserve account itself.
type Reserve struct {
	Address        solana.PublicKey
	Mint           solana.PublicKey
	LiquidityVault solana.PublicKey
	Oracle         solana.PublicKey
	TokenProgram   solana.PublicKey
}

type Config struct {
	ProgramID     solana.PublicKey
	LendingMarket solana.PublicKey
	Owner         solana.PublicKey

	// Obligation is derived from the owner when left zero.
	Obligation solana.PublicKey

	Supply Reserve
	Debt   Reserve

	LookupTables []solana.PublicKey

	// MaxStateAge bounds how old the oldest refreshed account may be.
	MaxStateAge time.Duration
}

func (c Config) Validate() error {
	if c.ProgramID.IsZero() || c.LendingMarket.IsZero() || c.Owner.IsZero() {
		return ErrInvalidConfig
	}
	if c.Supply.Address.IsZero() || c.Debt.Address.IsZero() {
		return ErrInvalidConfig
	}
	if c.Supply.Mint.Equals(c.Debt.Mint) {
		return ErrInvalidConfig
	}
	if c.MaxStateAge <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
