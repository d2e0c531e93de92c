package lending

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/leverage-keeper/internal/common"
	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/venue"
)

var (
	testProgram = solana.NewWallet().PublicKey()
	testMarket  = solana.NewWallet().PublicKey()
	testOwner   = solana.NewWallet().PublicKey()
	solMint     = solana.NewWallet().PublicKey()
	usdcMint    = solana.NewWallet().PublicKey()

	supplyReserve = Reserve{
		Address:        solana.NewWallet().PublicKey(),
		Mint:           solMint,
		LiquidityVault: solana.NewWallet().PublicKey(),
		Oracle:         solana.NewWallet().PublicKey(),
	}
	debtReserve = Reserve{
		Address:        solana.NewWallet().PublicKey(),
		Mint:           usdcMint,
		LiquidityVault: solana.NewWallet().PublicKey(),
		Oracle:         solana.NewWallet().PublicKey(),
	}
)

const testNow = 1_700_000_000

type fakeFetcher struct {
	accounts map[solana.PublicKey][]byte
	err      error
}

func (f *fakeFetcher) FetchAccounts(_ context.Context, addresses []solana.PublicKey) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]byte, len(addresses))
	for i, a := range addresses {
		out[i] = f.accounts[a]
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		ProgramID:     testProgram,
		LendingMarket: testMarket,
		Owner:         testOwner,
		Supply:        supplyReserve,
		Debt:          debtReserve,
		MaxStateAge:   time.Minute,
	}
}

// newTestClient builds a client over a 1000 SOL ($100) / 28,900 USDC position.
func newTestClient(t *testing.T, mutate func(o *ObligationAccount, supply, debt *ReserveAccount)) (*Client, *fakeFetcher) {
	t.Helper()
	cfg := testConfig()

	supply := &ReserveAccount{
		LendingMarket:           testMarket,
		LiquidityMint:           solMint,
		MintDecimals:            9,
		LiquidityVault:          cfg.Supply.LiquidityVault,
		Oracle:                  cfg.Supply.Oracle,
		AvailableAmount:         5_000_000_000_000,
		MarketPriceMantissa:     100,
		LoanToValueBps:          8_000,
		LiquidationThresholdBps: 8_500,
		FlashLoanFeeBps:         9,
		LastUpdateUnix:          testNow - 5,
	}
	debt := &ReserveAccount{
		LendingMarket:           testMarket,
		LiquidityMint:           usdcMint,
		MintDecimals:            6,
		LiquidityVault:          cfg.Debt.LiquidityVault,
		Oracle:                  cfg.Debt.Oracle,
		AvailableAmount:         1_000_000_000_000,
		MarketPriceMantissa:     1,
		LoanToValueBps:          9_000,
		LiquidationThresholdBps: 9_500,
		FlashLoanFeeBps:         5,
		LastUpdateUnix:          testNow - 5,
	}

	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	obligation := &ObligationAccount{
		LendingMarket:   testMarket,
		Owner:           testOwner,
		DepositReserve:  cfg.Supply.Address,
		DepositedAmount: 1_000_000_000_000,
		BorrowReserve:   cfg.Debt.Address,
		BorrowedAmount:  28_900_000_000,
		LastUpdateUnix:  testNow - 2,
	}
	if mutate != nil {
		mutate(obligation, supply, debt)
	}

	fetcher := &fakeFetcher{accounts: map[solana.PublicKey][]byte{}}
	obligationData, err := EncodeObligation(obligation)
	fetcher.accounts[client.Obligation()] = mustEncode(t, obligationData, err)
	supplyData, err := EncodeReserve(supply)
	fetcher.accounts[cfg.Supply.Address] = mustEncode(t, supplyData, err)
	debtData, err := EncodeReserve(debt)
	fetcher.accounts[cfg.Debt.Address] = mustEncode(t, debtData, err)

	client.fetcher = fetcher
	client.now = func() time.Time { return time.Unix(testNow, 0) }
	return client, fetcher
}

func mustEncode(t *testing.T, data []byte, err error) []byte {
	t.Helper()
	require.NoError(t, err)
	return data
}

func TestFreshState(t *testing.T) {
	client, _ := newTestClient(t, nil)

	state, prices, err := client.FreshState(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "100", prices.Supply.String())
	assert.Equal(t, "1", prices.Debt.String())
	assert.Equal(t, uint16(3_400), state.LiqUtilizationRateBps)
	assert.Equal(t, uint16(8_000), state.MaxLtvBps)
	assert.Equal(t, uint16(8_500), state.LiqThresholdBps)
	assert.Equal(t, "71100", state.NetWorthUsd.String())
	assert.Equal(t, uint64(1_000_000_000_000), state.Supply.AmountCanBeUsed, "capped by the deposit")
	assert.Equal(t, uint64(1_000_000_000_000), state.Debt.AmountCanBeUsed)
	assert.Equal(t, int64(testNow-5), state.LastUpdated)
	assert.False(t, state.Derived)
}

func TestFreshStateStale(t *testing.T) {
	client, _ := newTestClient(t, func(_ *ObligationAccount, supply, _ *ReserveAccount) {
		supply.LastUpdateUnix = testNow - 120
	})

	_, _, err := client.FreshState(context.Background())
	assert.ErrorIs(t, err, domain.ErrStaleState)
}

func TestFreshStateRejectsForeignObligation(t *testing.T) {
	client, _ := newTestClient(t, func(o *ObligationAccount, _, _ *ReserveAccount) {
		o.Owner = solana.NewWallet().PublicKey()
	})

	_, _, err := client.FreshState(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFreshStateMissingAccount(t *testing.T) {
	client, fetcher := newTestClient(t, nil)
	delete(fetcher.accounts, client.Obligation())

	_, _, err := client.FreshState(context.Background())
	assert.ErrorIs(t, err, ErrAccountNotFound)

	fetcher.err = errors.New("rpc down")
	_, _, err = client.FreshState(context.Background())
	assert.ErrorContains(t, err, "rpc down")
}

func TestDecodeRejectsWrongDiscriminator(t *testing.T) {
	data, err := EncodeObligation(&ObligationAccount{Owner: testOwner})
	require.NoError(t, err)

	_, err = DecodeReserve(data)
	assert.ErrorIs(t, err, ErrInvalidDiscriminator)
}

func decodeArgs(t *testing.T, ix solana.Instruction, discriminator [8]byte, v interface{}) {
	t.Helper()
	data, err := ix.Data()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 8)
	assert.Equal(t, discriminator[:], data[:8])
	require.NoError(t, bin.NewBorshDecoder(data[8:]).Decode(v))
}

func TestProtocolInteraction(t *testing.T) {
	client, _ := newTestClient(t, nil)

	tests := []struct {
		name          string
		action        venue.Action
		discriminator [8]byte
		amount        uint64
		mint          solana.PublicKey
	}{
		{"deposit", venue.Action{Kind: venue.ActionDeposit, AmountBaseUnit: 42}, ixDeposit, 42, solMint},
		{"withdraw all", venue.Action{Kind: venue.ActionWithdraw, All: true}, ixWithdraw, math.MaxUint64, solMint},
		{"borrow", venue.Action{Kind: venue.ActionBorrow, AmountBaseUnit: 7}, ixBorrow, 7, usdcMint},
		{"repay all", venue.Action{Kind: venue.ActionRepay, All: true}, ixRepay, math.MaxUint64, usdcMint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := client.ProtocolInteraction(tt.action)
			require.NoError(t, err)
			assert.Equal(t, testProgram, ix.ProgramID())

			var args amountArgs
			decodeArgs(t, ix, tt.discriminator, &args)
			assert.Equal(t, tt.amount, args.Amount)

			accounts := ix.Accounts()
			assert.True(t, accounts[0].IsSigner)
			assert.Equal(t, testOwner, accounts[0].PublicKey)

			ata, err := ATAAddress(testOwner, tt.mint, common.TokenProgramID)
			require.NoError(t, err)
			assert.Equal(t, ata, accounts[6].PublicKey)
		})
	}
}

func TestProtocolInteractionValidation(t *testing.T) {
	client, _ := newTestClient(t, nil)

	_, err := client.ProtocolInteraction(venue.Action{Kind: venue.ActionBorrow})
	assert.ErrorIs(t, err, venue.ErrZeroAmount)

	_, err = client.ProtocolInteraction(venue.Action{Kind: venue.ActionDeposit, All: true})
	assert.ErrorIs(t, err, venue.ErrUnsupportedAction)

	_, err = client.ProtocolInteraction(venue.Action{Kind: "Liquidate", AmountBaseUnit: 1})
	assert.ErrorIs(t, err, venue.ErrUnsupportedAction)
}

func TestFlashLoanInstructions(t *testing.T) {
	client, _ := newTestClient(t, nil)
	_, _, err := client.FreshState(context.Background())
	require.NoError(t, err)

	details := domain.FlashLoanDetails{AmountBaseUnit: 1_000_000, Mint: usdcMint}

	borrow, err := client.FlashBorrow(details)
	require.NoError(t, err)
	var borrowArgs amountArgs
	decodeArgs(t, borrow, ixFlashBorrow, &borrowArgs)
	assert.Equal(t, uint64(1_000_000), borrowArgs.Amount)

	repay, err := client.FlashRepay(details, 3)
	require.NoError(t, err)
	var repayArgs flashRepayArgs
	decodeArgs(t, repay, ixFlashRepay, &repayArgs)
	assert.Equal(t, uint64(1_000_500), repayArgs.Amount, "5 bps reserve fee")
	assert.Equal(t, uint64(1_000_500), client.FlashRepayAmount(details))
	assert.Equal(t, uint8(3), repayArgs.InstructionsSinceBorrow)

	_, err = client.FlashRepay(details, 0)
	assert.Error(t, err)

	_, err = client.FlashBorrow(domain.FlashLoanDetails{AmountBaseUnit: 1, Mint: solana.NewWallet().PublicKey()})
	assert.ErrorIs(t, err, venue.ErrUnknownMint)
}

func TestRefresh(t *testing.T) {
	client, _ := newTestClient(t, nil)

	ixs, err := client.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, ixs, 3)

	data, err := ixs[2].Data()
	require.NoError(t, err)
	assert.Equal(t, ixRefreshObligation[:], data)
	assert.Equal(t, client.Obligation(), ixs[2].Accounts()[1].PublicKey)
	assert.True(t, ixs[2].Accounts()[1].IsWritable)
}

func TestDerivedAddressesAreStable(t *testing.T) {
	a, err := MarketAuthority(testProgram, testMarket)
	require.NoError(t, err)
	b, err := MarketAuthority(testProgram, testMarket)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	o1, err := ObligationAddress(testProgram, testMarket, testOwner)
	require.NoError(t, err)
	client, _ := newTestClient(t, nil)
	assert.Equal(t, o1, client.Obligation())
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	same := cfg
	same.Debt.Mint = same.Supply.Mint
	assert.ErrorIs(t, same.Validate(), ErrInvalidConfig)

	noAge := cfg
	noAge.MaxStateAge = 0
	assert.ErrorIs(t, noAge.Validate(), ErrInvalidConfig)
}
