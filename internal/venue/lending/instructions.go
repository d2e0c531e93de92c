package lending

import (
	"bytes"
	"math"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/hxuan190/leverage-keeper/internal/common"
)

var (
	ixRefreshReserve    = instructionDiscriminator("refresh_reserve")
	ixRefreshObligation = instructionDiscriminator("refresh_obligation")
	ixDeposit           = instructionDiscriminator("deposit_collateral")
	ixWithdraw          = instructionDiscriminator("withdraw_collateral")
	ixBorrow            = instructionDiscriminator("borrow_liquidity")
	ixRepay             = instructionDiscriminator("repay_liquidity")
	ixFlashBorrow       = instructionDiscriminator("flash_borrow_reserve_liquidity")
	ixFlashRepay        = instructionDiscriminator("flash_repay_reserve_liquidity")
)

// amountAll asks the program to use the whole obligation balance.
const amountAll = math.MaxUint64

type amountArgs struct {
	Amount uint64
}

type flashRepayArgs struct {
	Amount                  uint64
	InstructionsSinceBorrow uint8
}

func encodeInstruction(discriminator [8]byte, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator[:])
	if args == nil {
		return buf.Bytes(), nil
	}
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type pdaKey struct {
	program solana.PublicKey
	market  solana.PublicKey
}

var (
	authorityPDACache   = make(map[pdaKey]solana.PublicKey)
	authorityPDACacheMu sync.RWMutex
)

// MarketAuthority is the PDA that owns every reserve vault of a market.
func MarketAuthority(program, market solana.PublicKey) (solana.PublicKey, error) {
	key := pdaKey{program: program, market: market}

	authorityPDACacheMu.RLock()
	if cached, ok := authorityPDACache[key]; ok {
		authorityPDACacheMu.RUnlock()
		return cached, nil
	}
	authorityPDACacheMu.RUnlock()

	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(common.LendingAuthoritySeed),
			market[:],
		},
		program,
	)
	if err != nil {
		return solana.PublicKey{}, err
	}

	authorityPDACacheMu.Lock()
	authorityPDACache[key] = pda
	authorityPDACacheMu.Unlock()

	return pda, nil
}

// ObligationAddress derives the obligation of owner in market.
func ObligationAddress(program, market, owner solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(common.ObligationSeed),
			market[:],
			owner[:],
		},
		program,
	)
	return pda, err
}

type ataKey struct {
	Wallet       solana.PublicKey
	Mint         solana.PublicKey
	TokenProgram solana.PublicKey
}

var (
	ataCache   = make(map[ataKey]solana.PublicKey)
	ataCacheMu sync.RWMutex
)

func ATAAddress(wallet, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	key := ataKey{Wallet: wallet, Mint: mint, TokenProgram: tokenProgram}

	ataCacheMu.RLock()
	if cached, ok := ataCache[key]; ok {
		ataCacheMu.RUnlock()
		return cached, nil
	}
	ataCacheMu.RUnlock()

	ata, _, err := solana.FindProgramAddress(
		[][]byte{
			wallet[:],
			tokenProgram[:],
			mint[:],
		},
		common.ATAProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, err
	}

	ataCacheMu.Lock()
	ataCache[key] = ata
	ataCacheMu.Unlock()

	return ata, nil
}
