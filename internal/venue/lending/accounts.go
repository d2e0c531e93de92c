package lending

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidDiscriminator = errors.New("invalid account discriminator")
)

var (
	reserveDiscriminator    = accountDiscriminator("Reserve")
	obligationDiscriminator = accountDiscriminator("Obligation")
)

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func instructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// ReserveAccount is the on-chain layout of one reserve.
type ReserveAccount struct {
	LendingMarket           solana.PublicKey
	LiquidityMint           solana.PublicKey
	MintDecimals            uint8
	LiquidityVault          solana.PublicKey
	Oracle                  solana.PublicKey
	AvailableAmount         uint64
	BorrowedAmount          uint64
	MarketPriceMantissa     uint64
	MarketPriceExpo         int32
	LoanToValueBps          uint16
	LiquidationThresholdBps uint16
	FlashLoanFeeBps         uint16
	LastUpdateUnix          int64
}

func (r *ReserveAccount) MarketPrice() decimal.Decimal {
	return decimal.New(int64(r.MarketPriceMantissa), r.MarketPriceExpo)
}

// ObligationAccount is the on-chain layout of a single-deposit,
// single-borrow position.
type ObligationAccount struct {
	LendingMarket   solana.PublicKey
	Owner           solana.PublicKey
	DepositReserve  solana.PublicKey
	DepositedAmount uint64
	BorrowReserve   solana.PublicKey
	BorrowedAmount  uint64
	LastUpdateUnix  int64
}

func DecodeReserve(data []byte) (*ReserveAccount, error) {
	var reserve ReserveAccount
	if err := decodeAccount(data, reserveDiscriminator, &reserve); err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	return &reserve, nil
}

func DecodeObligation(data []byte) (*ObligationAccount, error) {
	var obligation ObligationAccount
	if err := decodeAccount(data, obligationDiscriminator, &obligation); err != nil {
		return nil, fmt.Errorf("obligation: %w", err)
	}
	return &obligation, nil
}

func decodeAccount(data []byte, discriminator [8]byte, v interface{}) error {
	if len(data) < 8 {
		return ErrAccountNotFound
	}
	if !bytes.Equal(data[:8], discriminator[:]) {
		return ErrInvalidDiscriminator
	}
	return bin.NewBorshDecoder(data[8:]).Decode(v)
}

// EncodeReserve is the inverse of DecodeReserve. It is used by local tooling
// and tests that need raw account data.
func EncodeReserve(r *ReserveAccount) ([]byte, error) {
	return encodeAccount(reserveDiscriminator, r)
}

func EncodeObligation(o *ObligationAccount) ([]byte, error) {
	return encodeAccount(obligationDiscriminator, o)
}

func encodeAccount(discriminator [8]byte, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
