// Package keeper drives one leveraged position: it plans a rebalance from a
// fresh snapshot, hands the resulting items to the transaction manager and
// records what landed.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/leverage-keeper/internal/adapters/persistence"
	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/metrics"
	"github.com/hxuan190/leverage-keeper/internal/planner"
	"github.com/hxuan190/leverage-keeper/internal/rebalance"
	"github.com/hxuan190/leverage-keeper/internal/txn"
	"github.com/hxuan190/leverage-keeper/internal/venue"
)

const (
	ItemRefresh   = "refresh"
	ItemDeposit   = "deposit"
	ItemWithdraw  = "withdraw"
	ItemRebalance = "rebalance"

	TriggerCron = "cron"
	TriggerAPI  = "api"
	TriggerCLI  = "cli"

	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	ErrAmountTooLarge = errors.New("amount exceeds the signed 64-bit range")
	ErrStillStale     = errors.New("position still stale after refresh")
)

// Runner submits items; txn.TransactionsManager is the production runner.
type Runner interface {
	Run(ctx context.Context, items []*txn.Item, opts txn.Options) (*txn.StatusLog, error)
}

// Store keeps run history and schedule progress. It may be nil.
type Store interface {
	SaveRun(run *persistence.RunRecord) error
	SaveRunWithStrategy(run *persistence.RunRecord, strategy *persistence.StoredStrategy) error
	SaveStrategy(strategy *persistence.StoredStrategy) error
	LoadStrategy() (*persistence.StoredStrategy, error)
	ListRuns(limit int) ([]*persistence.RunRecord, error)
	GetRun(id string) (*persistence.RunRecord, error)
}

type Options struct {
	Swap     planner.SwapConfig
	Fees     rebalance.FeeSchedule
	Referred bool
	Tx       txn.Options
}

// RunRequest asks for one keeper pass. Deposit and withdraw land before the
// rebalance and are planned around as pending deltas.
type RunRequest struct {
	Trigger          string  `json:"trigger"`
	TargetBps        *uint16 `json:"targetBps,omitempty"`
	DepositBaseUnit  uint64  `json:"depositBaseUnit"`
	WithdrawBaseUnit uint64  `json:"withdrawBaseUnit"`
}

// Plan is one planning pass. Swap instructions are not serialised.
type Plan struct {
	State     domain.PositionState     `json:"state"`
	Effective domain.PositionState     `json:"effective"`
	Values    domain.RebalanceValues   `json:"values"`
	Swap      *domain.SwapQuote        `json:"swap"`
	FlashLoan *domain.FlashLoanDetails `json:"flashLoan,omitempty"`
	PlannedAt time.Time                `json:"plannedAt"`
}

type Keeper struct {
	venue  venue.Client
	swaps  planner.SwapProvider
	runner Runner
	store  Store
	opts   Options
	now    func() time.Time

	// runMu serialises runs; cron and API triggers never overlap.
	runMu sync.Mutex

	mu       sync.RWMutex
	settings domain.RebalanceSettings
	dca      *domain.DCASettings
}

// New builds a keeper. A strategy saved in store takes precedence over the
// configured one so schedule progress survives restarts.
func New(v venue.Client, swaps planner.SwapProvider, runner Runner, store Store, settings domain.RebalanceSettings, dca *domain.DCASettings, opts Options) (*Keeper, error) {
	if store != nil {
		stored, err := store.LoadStrategy()
		if err != nil {
			return nil, err
		}
		if stored != nil {
			log.Info().
				Uint16("boost_to_bps", stored.Settings.BoostToBps).
				Time("updated_at", stored.UpdatedAt).
				Msg("[Keeper] resuming stored strategy")
			settings, dca = stored.Settings, stored.DCA
		}
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &Keeper{
		venue:    v,
		swaps:    swaps,
		runner:   runner,
		store:    store,
		opts:     opts,
		now:      time.Now,
		settings: settings,
		dca:      dca,
	}, nil
}

// Strategy returns the current settings and DCA schedule.
func (k *Keeper) Strategy() (domain.RebalanceSettings, *domain.DCASettings) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.settings, cloneDCA(k.dca)
}

// UpdateStrategy replaces the settings and DCA schedule and persists them.
func (k *Keeper) UpdateStrategy(settings domain.RebalanceSettings, dca *domain.DCASettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if dca != nil {
		if err := dca.Automation.Validate(); err != nil {
			return err
		}
	}

	k.mu.Lock()
	k.settings, k.dca = settings, cloneDCA(dca)
	k.mu.Unlock()

	if k.store == nil {
		return nil
	}
	return k.store.SaveStrategy(&persistence.StoredStrategy{Settings: settings, DCA: cloneDCA(dca), UpdatedAt: k.now()})
}

// History lists stored runs, newest first.
func (k *Keeper) History(limit int) ([]*persistence.RunRecord, error) {
	if k.store == nil {
		return nil, nil
	}
	return k.store.ListRuns(limit)
}

func (k *Keeper) Run(id string) (*persistence.RunRecord, error) {
	if k.store == nil {
		return nil, fmt.Errorf("%w: %s", persistence.ErrRunNotFound, id)
	}
	return k.store.GetRun(id)
}

// runContext is scoped to one RunOnce call. Only the status callback writes
// landed; producers only read it.
type runContext struct {
	req      RunRequest
	settings domain.RebalanceSettings
	dca      *domain.DCASettings

	deltas map[string]domain.Delta
	order  []string
	landed map[string]bool

	plan *Plan
}

// pending folds the deltas of items that have not landed yet.
func (rc *runContext) pending() domain.PendingLog {
	var out domain.PendingLog
	for _, name := range rc.order {
		if !rc.landed[name] {
			out = out.Append(rc.deltas[name])
		}
	}
	return out
}

func (rc *runContext) onStatus(s txn.TransactionStatus) {
	if s.Status != txn.StatusSuccessful {
		return
	}
	for _, name := range s.Items {
		rc.landed[name] = true
	}
}

func (k *Keeper) newRunContext(req RunRequest) (*runContext, error) {
	settings, dca := k.Strategy()
	rc := &runContext{
		req:      req,
		settings: settings,
		dca:      dca,
		deltas:   make(map[string]domain.Delta),
		landed:   make(map[string]bool),
	}
	if req.DepositBaseUnit > 0 {
		if req.DepositBaseUnit > math.MaxInt64 {
			return nil, fmt.Errorf("%w: deposit %d", ErrAmountTooLarge, req.DepositBaseUnit)
		}
		rc.deltas[ItemDeposit] = domain.Delta{SupplyBaseUnit: int64(req.DepositBaseUnit)}
		rc.order = append(rc.order, ItemDeposit)
	}
	if req.WithdrawBaseUnit > 0 {
		if req.WithdrawBaseUnit > math.MaxInt64 {
			return nil, fmt.Errorf("%w: withdraw %d", ErrAmountTooLarge, req.WithdrawBaseUnit)
		}
		rc.deltas[ItemWithdraw] = domain.Delta{SupplyBaseUnit: -int64(req.WithdrawBaseUnit)}
		rc.order = append(rc.order, ItemWithdraw)
	}
	return rc, nil
}

// PlanOnly runs the planning pass without submitting anything.
func (k *Keeper) PlanOnly(ctx context.Context, req RunRequest) (*Plan, error) {
	rc, err := k.newRunContext(req)
	if err != nil {
		return nil, err
	}
	plan, _, err := k.plan(ctx, rc, 0)
	return plan, err
}

// plan fetches a fresh snapshot and plans against it with the run's pending
// deltas folded in.
func (k *Keeper) plan(ctx context.Context, rc *runContext, attempt int) (*Plan, *domain.SwapQuote, error) {
	state, prices, err := k.freshState(ctx)
	if err != nil {
		return nil, nil, err
	}

	pctx := domain.PlanningContext{
		State:    state,
		Prices:   prices,
		Now:      k.now(),
		Settings: rc.settings,
		DCA:      rc.dca,
		Referred: k.opts.Referred,
		Pending:  rc.pending(),
	}
	values, err := rebalance.Plan(pctx, rebalance.PlanOptions{TargetBps: rc.req.TargetBps, Fees: k.opts.Fees})
	if err != nil {
		metrics.Plans.WithLabelValues("none", "infeasible").Inc()
		return nil, nil, err
	}

	effective, err := pctx.Effective()
	if err != nil {
		return nil, nil, err
	}
	swapReq, err := planner.PlanSwap(k.venue.Authority(), effective.State, prices, values, attempt, k.opts.Swap)
	if err != nil {
		return nil, nil, err
	}
	quote, err := k.swaps.Quote(ctx, swapReq)
	if err != nil {
		return nil, nil, fmt.Errorf("quote swap: %w", err)
	}
	flash, err := planner.PlanLiquidity(effective.State, prices, values, quote)
	if err != nil {
		return nil, nil, err
	}

	plan := &Plan{
		State:     state,
		Effective: effective.State,
		Values:    values,
		Swap:      quote,
		FlashLoan: flash,
		PlannedAt: pctx.Now,
	}

	log.Info().
		Int("attempt", attempt).
		Str("direction", string(values.Direction)).
		Uint16("rate_bps", effective.State.LiqUtilizationRateBps).
		Uint16("target_bps", values.TargetBps).
		Str("debt_adjustment_usd", values.DebtAdjustmentUsd.StringFixed(2)).
		Bool("flash_loan", flash != nil).
		Msg("[Keeper] rebalance planned")
	return plan, quote, nil
}

func (k *Keeper) rebalanceProducer(rc *runContext) txn.Producer {
	return func(ctx context.Context, attempt int) (*txn.Fragment, error) {
		rc.plan = nil
		plan, quote, err := k.plan(ctx, rc, attempt)
		if err != nil {
			return nil, err
		}
		ixs, err := k.assemble(ctx, plan)
		if err != nil {
			return nil, err
		}
		rc.plan = plan
		return &txn.Fragment{Instructions: ixs, LookupTables: quote.LookupTables}, nil
	}
}

func (k *Keeper) items(rc *runContext) ([]*txn.Item, error) {
	tables := k.venue.LookupTables()
	var items []*txn.Item

	if rc.req.DepositBaseUnit > 0 {
		ix, err := k.venue.ProtocolInteraction(venue.Action{Kind: venue.ActionDeposit, AmountBaseUnit: rc.req.DepositBaseUnit})
		if err != nil {
			return nil, err
		}
		items = append(items, txn.StaticItem(ItemDeposit, []solana.Instruction{ix}, tables...))
	}
	if rc.req.WithdrawBaseUnit > 0 {
		ix, err := k.venue.ProtocolInteraction(venue.Action{Kind: venue.ActionWithdraw, AmountBaseUnit: rc.req.WithdrawBaseUnit})
		if err != nil {
			return nil, err
		}
		items = append(items, txn.StaticItem(ItemWithdraw, []solana.Instruction{ix}, tables...))
	}
	return append(items, txn.NewItem(ItemRebalance, k.rebalanceProducer(rc), tables...)), nil
}

func (k *Keeper) txOptions(rc *runContext, record *persistence.RunRecord) txn.Options {
	opts := k.opts.Tx
	opts.OnStatus = func(s txn.TransactionStatus) {
		rc.onStatus(s)
		log.Debug().
			Str("run", record.ID).
			Str("set", s.Name).
			Int("attempt", s.Attempt).
			Str("status", string(s.Status)).
			Msg("[Keeper] status")
	}
	return opts
}

// RunOnce plans and submits one keeper pass. The returned record is never
// nil; it is persisted whatever the outcome.
func (k *Keeper) RunOnce(ctx context.Context, req RunRequest) (*persistence.RunRecord, error) {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	record := &persistence.RunRecord{
		ID:        uuid.NewString(),
		Trigger:   req.Trigger,
		StartedAt: k.now(),
	}
	err := k.runOnce(ctx, req, record)
	k.finish(record, err)
	return record, err
}

func (k *Keeper) runOnce(ctx context.Context, req RunRequest, record *persistence.RunRecord) error {
	rc, err := k.newRunContext(req)
	if err != nil {
		return err
	}

	if err := k.ensureFresh(ctx, rc, record); err != nil {
		return err
	}

	items, err := k.items(rc)
	if err != nil {
		return err
	}
	statuses, err := k.runner.Run(ctx, items, k.txOptions(rc, record))
	if statuses != nil {
		record.Statuses = append(record.Statuses, statuses.Entries()...)
		record.Signatures = append(record.Signatures, statuses.Signatures()...)
	}

	if rc.plan != nil {
		values := rc.plan.Values
		record.Values = &values
		record.FlashLoan = rc.plan.FlashLoan
	}
	if err != nil {
		if rc.plan != nil {
			metrics.Plans.WithLabelValues(string(rc.plan.Values.Direction), "failed").Inc()
		}
		return err
	}
	if rc.plan != nil && rc.landed[ItemRebalance] {
		k.advance(rc)
	}
	return nil
}

// freshState reads the venue snapshot. A derived snapshot carries adjustments
// that have not landed and is treated as stale.
func (k *Keeper) freshState(ctx context.Context) (domain.PositionState, domain.Prices, error) {
	state, prices, err := k.venue.FreshState(ctx)
	if err != nil {
		return domain.PositionState{}, domain.Prices{}, err
	}
	if state.Derived {
		return domain.PositionState{}, domain.Prices{}, fmt.Errorf("%w: snapshot includes unconfirmed adjustments", domain.ErrStaleState)
	}
	return state, prices, nil
}

// ensureFresh records the starting rate. When the venue reports a stale
// snapshot it submits a refresh on its own first.
func (k *Keeper) ensureFresh(ctx context.Context, rc *runContext, record *persistence.RunRecord) error {
	state, _, err := k.freshState(ctx)
	if err == nil {
		record.RateBeforeBps = state.LiqUtilizationRateBps
		metrics.PositionUtilizationBps.Set(float64(state.LiqUtilizationRateBps))
		metrics.PositionNetWorthUsd.Set(state.NetWorthUsd.InexactFloat64())
		return nil
	}
	if !errors.Is(err, domain.ErrStaleState) {
		return err
	}

	log.Warn().Err(err).Str("run", record.ID).Msg("[Keeper] refreshing stale position")
	ixs, err := k.venue.Refresh(ctx)
	if err != nil {
		return err
	}
	opts := k.txOptions(rc, record)
	opts.Atomic = true
	statuses, err := k.runner.Run(ctx, []*txn.Item{txn.StaticItem(ItemRefresh, ixs, k.venue.LookupTables()...)}, opts)
	if statuses != nil {
		record.Statuses = append(record.Statuses, statuses.Entries()...)
		record.Signatures = append(record.Signatures, statuses.Signatures()...)
	}
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	state, _, err = k.freshState(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return fmt.Errorf("%w: %w", ErrStillStale, err)
		}
		return err
	}
	record.RateBeforeBps = state.LiqUtilizationRateBps
	return nil
}

// advance moves the boost and DCA schedules past the periods the landed
// rebalance consumed.
func (k *Keeper) advance(rc *runContext) {
	values := rc.plan.Values
	nowUnix := rc.plan.PlannedAt.Unix()

	k.mu.Lock()
	k.settings = rebalance.AdvanceSettings(rc.settings, values, nowUnix)
	k.dca = rebalance.AdvanceDCA(rc.dca, values)
	k.mu.Unlock()

	metrics.Plans.WithLabelValues(string(values.Direction), "executed").Inc()
	metrics.DebtAdjustmentUsd.WithLabelValues(string(values.Direction)).Observe(values.DebtAdjustmentUsd.Abs().InexactFloat64())
	if rc.plan.FlashLoan != nil {
		metrics.FlashLoans.Inc()
	}
}

func (k *Keeper) finish(record *persistence.RunRecord, err error) {
	record.FinishedAt = k.now()
	switch {
	case err != nil:
		record.Outcome = OutcomeFailed
		record.Error = err.Error()
	case len(record.Signatures) == 0:
		record.Outcome = OutcomeSkipped
	default:
		record.Outcome = OutcomeSuccess
	}

	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.
		Str("run", record.ID).
		Str("trigger", record.Trigger).
		Str("outcome", record.Outcome).
		Int("signatures", len(record.Signatures)).
		Dur("elapsed", record.FinishedAt.Sub(record.StartedAt)).
		Msg("[Keeper] run finished")

	if k.store == nil {
		return
	}
	var saveErr error
	if record.Values != nil && record.Outcome == OutcomeSuccess && slices.ContainsFunc(record.Statuses, landedRebalance) {
		settings, dca := k.Strategy()
		saveErr = k.store.SaveRunWithStrategy(record, &persistence.StoredStrategy{Settings: settings, DCA: dca, UpdatedAt: record.FinishedAt})
	} else {
		saveErr = k.store.SaveRun(record)
	}
	if saveErr != nil {
		log.Error().Err(saveErr).Str("run", record.ID).Msg("[Keeper] failed to persist run")
	}
}

func landedRebalance(s txn.TransactionStatus) bool {
	return s.Status == txn.StatusSuccessful && slices.Contains(s.Items, ItemRebalance)
}

func cloneDCA(dca *domain.DCASettings) *domain.DCASettings {
	if dca == nil {
		return nil
	}
	out := *dca
	return &out
}
