// Package lending is a reference venue for a single-market lending program
// with flash loans. Instruction data is Borsh encoded behind an 8-byte
// sighash discriminator.
package lending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/leverage-keeper/internal/common"
	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
	"github.com/hxuan190/leverage-keeper/internal/venue"
)

// AccountFetcher returns raw account data in request order. Missing accounts
// are returned as nil entries.
type AccountFetcher interface {
	FetchAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, error)
}

type Client struct {
	cfg        Config
	fetcher    AccountFetcher
	marketAuth solana.PublicKey
	obligation solana.PublicKey
	now        func() time.Time

	mu       sync.RWMutex
	flashFee map[solana.PublicKey]uint16
}

var _ venue.Client = (*Client)(nil)

func NewClient(cfg Config, fetcher AccountFetcher) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, r := range []*Reserve{&cfg.Supply, &cfg.Debt} {
		if r.TokenProgram.IsZero() {
			r.TokenProgram = common.TokenProgramID
		}
	}

	marketAuth, err := MarketAuthority(cfg.ProgramID, cfg.LendingMarket)
	if err != nil {
		return nil, fmt.Errorf("market authority: %w", err)
	}
	obligation := cfg.Obligation
	if obligation.IsZero() {
		if obligation, err = ObligationAddress(cfg.ProgramID, cfg.LendingMarket, cfg.Owner); err != nil {
			return nil, fmt.Errorf("obligation address: %w", err)
		}
	}

	return &Client{
		cfg:        cfg,
		fetcher:    fetcher,
		marketAuth: marketAuth,
		obligation: obligation,
		now:        time.Now,
		flashFee:   make(map[solana.PublicKey]uint16),
	}, nil
}

func (c *Client) Authority() solana.PublicKey {
	return c.cfg.Owner
}

func (c *Client) Obligation() solana.PublicKey {
	return c.obligation
}

func (c *Client) LookupTables() []solana.PublicKey {
	return c.cfg.LookupTables
}

// FreshState reads the obligation and both reserves in one request.
func (c *Client) FreshState(ctx context.Context) (domain.PositionState, domain.Prices, error) {
	data, err := c.fetcher.FetchAccounts(ctx, []solana.PublicKey{c.obligation, c.cfg.Supply.Address, c.cfg.Debt.Address})
	if err != nil {
		return domain.PositionState{}, domain.Prices{}, fmt.Errorf("fetch position accounts: %w", err)
	}
	if len(data) != 3 {
		return domain.PositionState{}, domain.Prices{}, fmt.Errorf("fetch position accounts: got %d of 3", len(data))
	}

	obligation, err := DecodeObligation(data[0])
	if err != nil {
		return domain.PositionState{}, domain.Prices{}, err
	}
	supplyReserve, err := DecodeReserve(data[1])
	if err != nil {
		return domain.PositionState{}, domain.Prices{}, err
	}
	debtReserve, err := DecodeReserve(data[2])
	if err != nil {
		return domain.PositionState{}, domain.Prices{}, err
	}
	if err := c.checkObligation(obligation); err != nil {
		return domain.PositionState{}, domain.Prices{}, err
	}

	oldest := min(obligation.LastUpdateUnix, supplyReserve.LastUpdateUnix, debtReserve.LastUpdateUnix)

	prices := domain.Prices{Supply: supplyReserve.MarketPrice(), Debt: debtReserve.MarketPrice()}
	supply := domain.TokenUsage{
		Mint:            supplyReserve.LiquidityMint,
		Decimals:        supplyReserve.MintDecimals,
		AmountUsed:      obligation.DepositedAmount,
		AmountCanBeUsed: min(obligation.DepositedAmount, supplyReserve.AvailableAmount),
	}
	debt := domain.TokenUsage{
		Mint:            debtReserve.LiquidityMint,
		Decimals:        debtReserve.MintDecimals,
		AmountUsed:      obligation.BorrowedAmount,
		AmountCanBeUsed: debtReserve.AvailableAmount,
	}

	state, err := domain.NewPositionState(supply, debt, prices, supplyReserve.LoanToValueBps, supplyReserve.LiquidationThresholdBps, oldest)
	if err != nil {
		return domain.PositionState{}, domain.Prices{}, err
	}
	if now := c.now(); state.IsStale(now, c.cfg.MaxStateAge) {
		age := now.Sub(time.Unix(oldest, 0))
		return domain.PositionState{}, domain.Prices{}, fmt.Errorf("%w: oldest account updated %s ago", domain.ErrStaleState, age.Truncate(time.Second))
	}

	c.mu.Lock()
	c.flashFee[supplyReserve.LiquidityMint] = supplyReserve.FlashLoanFeeBps
	c.flashFee[debtReserve.LiquidityMint] = debtReserve.FlashLoanFeeBps
	c.mu.Unlock()

	log.Debug().
		Str("obligation", c.obligation.String()).
		Uint16("rate_bps", state.LiqUtilizationRateBps).
		Str("net_worth_usd", state.NetWorthUsd.StringFixed(2)).
		Msg("[LendingVenue] position loaded")
	return state, prices, nil
}

func (c *Client) checkObligation(o *ObligationAccount) error {
	if !o.Owner.Equals(c.cfg.Owner) || !o.LendingMarket.Equals(c.cfg.LendingMarket) {
		return fmt.Errorf("%w: obligation %s is not owned by %s", ErrInvalidConfig, c.obligation, c.cfg.Owner)
	}
	if !o.DepositReserve.IsZero() && !o.DepositReserve.Equals(c.cfg.Supply.Address) {
		return fmt.Errorf("%w: obligation deposits into %s", ErrInvalidConfig, o.DepositReserve)
	}
	if !o.BorrowReserve.IsZero() && !o.BorrowReserve.Equals(c.cfg.Debt.Address) {
		return fmt.Errorf("%w: obligation borrows from %s", ErrInvalidConfig, o.BorrowReserve)
	}
	return nil
}

func (c *Client) Refresh(_ context.Context) ([]solana.Instruction, error) {
	var out []solana.Instruction
	for _, r := range []Reserve{c.cfg.Supply, c.cfg.Debt} {
		ix, err := c.instruction(ixRefreshReserve, nil,
			solana.Meta(r.Address).WRITE(),
			solana.Meta(r.Oracle),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, ix)
	}

	ix, err := c.instruction(ixRefreshObligation, nil,
		solana.Meta(c.cfg.LendingMarket),
		solana.Meta(c.obligation).WRITE(),
		solana.Meta(c.cfg.Supply.Address),
		solana.Meta(c.cfg.Debt.Address),
	)
	if err != nil {
		return nil, err
	}
	return append(out, ix), nil
}

func (c *Client) ProtocolInteraction(action venue.Action) (solana.Instruction, error) {
	if err := action.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, action.Kind)
	}
	amount := action.AmountBaseUnit
	if action.All {
		amount = amountAll
	}

	reserve := c.cfg.Debt
	discriminator := ixBorrow
	switch action.Kind {
	case venue.ActionDeposit:
		reserve, discriminator = c.cfg.Supply, ixDeposit
	case venue.ActionWithdraw:
		reserve, discriminator = c.cfg.Supply, ixWithdraw
	case venue.ActionRepay:
		discriminator = ixRepay
	}

	ata, err := ATAAddress(c.cfg.Owner, reserve.Mint, reserve.TokenProgram)
	if err != nil {
		return nil, err
	}
	return c.instruction(discriminator, &amountArgs{Amount: amount},
		solana.Meta(c.cfg.Owner).SIGNER().WRITE(),
		solana.Meta(c.obligation).WRITE(),
		solana.Meta(c.cfg.LendingMarket),
		solana.Meta(c.marketAuth),
		solana.Meta(reserve.Address).WRITE(),
		solana.Meta(reserve.LiquidityVault).WRITE(),
		solana.Meta(ata).WRITE(),
		solana.Meta(reserve.TokenProgram),
	)
}

func (c *Client) FlashBorrow(details domain.FlashLoanDetails) (solana.Instruction, error) {
	reserve, err := c.reserveFor(details.Mint)
	if err != nil {
		return nil, err
	}
	ata, err := ATAAddress(c.cfg.Owner, reserve.Mint, reserve.TokenProgram)
	if err != nil {
		return nil, err
	}
	return c.instruction(ixFlashBorrow, &amountArgs{Amount: details.AmountBaseUnit},
		solana.Meta(c.cfg.Owner).SIGNER(),
		solana.Meta(c.cfg.LendingMarket),
		solana.Meta(c.marketAuth),
		solana.Meta(reserve.Address).WRITE(),
		solana.Meta(reserve.LiquidityVault).WRITE(),
		solana.Meta(ata).WRITE(),
		solana.Meta(common.SysvarInstructionsID),
		solana.Meta(reserve.TokenProgram),
	)
}

// FlashRepay repays FlashRepayAmount, using the fee last seen by FreshState.
func (c *Client) FlashRepay(details domain.FlashLoanDetails, instructionsSinceBorrow int) (solana.Instruction, error) {
	if instructionsSinceBorrow <= 0 || instructionsSinceBorrow > 255 {
		return nil, fmt.Errorf("flash repay offset %d out of range", instructionsSinceBorrow)
	}
	reserve, err := c.reserveFor(details.Mint)
	if err != nil {
		return nil, err
	}
	ata, err := ATAAddress(c.cfg.Owner, reserve.Mint, reserve.TokenProgram)
	if err != nil {
		return nil, err
	}

	return c.instruction(ixFlashRepay, &flashRepayArgs{
		Amount:                  c.FlashRepayAmount(details),
		InstructionsSinceBorrow: uint8(instructionsSinceBorrow),
	},
		solana.Meta(c.cfg.Owner).SIGNER(),
		solana.Meta(c.cfg.LendingMarket),
		solana.Meta(reserve.Address).WRITE(),
		solana.Meta(reserve.LiquidityVault).WRITE(),
		solana.Meta(ata).WRITE(),
		solana.Meta(common.SysvarInstructionsID),
		solana.Meta(reserve.TokenProgram),
	)
}

// FlashRepayAmount is the borrowed amount plus the reserve's flash loan fee.
func (c *Client) FlashRepayAmount(details domain.FlashLoanDetails) uint64 {
	c.mu.RLock()
	fee := c.flashFee[details.Mint]
	c.mu.RUnlock()
	return fixedpoint.AddBps(details.AmountBaseUnit, uint64(fee))
}

func (c *Client) reserveFor(mint solana.PublicKey) (Reserve, error) {
	switch {
	case mint.Equals(c.cfg.Supply.Mint):
		return c.cfg.Supply, nil
	case mint.Equals(c.cfg.Debt.Mint):
		return c.cfg.Debt, nil
	default:
		return Reserve{}, fmt.Errorf("%w: %s", venue.ErrUnknownMint, mint)
	}
}

func (c *Client) instruction(discriminator [8]byte, args interface{}, accounts ...*solana.AccountMeta) (solana.Instruction, error) {
	data, err := encodeInstruction(discriminator, args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(c.cfg.ProgramID, accounts, data), nil
}
