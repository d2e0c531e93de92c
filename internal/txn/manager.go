package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/leverage-keeper/internal/metrics"
)

const (
	DefaultMaxRetries = 4
	DefaultRetryDelay = 150 * time.Millisecond
)

// Submitter is the ledger boundary. Simulate returns consumed compute units or
// a decoded *ProgramError; Send submits and waits for confirmation.
type Submitter interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (uint64, error)
	Send(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error)
}

type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// BudgetProvider supplies the compute budget instructions prepended to every
// transaction. Placeholder must encode to the same size as Instructions.
type BudgetProvider interface {
	Placeholder() []solana.Instruction
	Instructions(ctx context.Context, unitsConsumed uint64, writable []solana.PublicKey) []solana.Instruction
}

type Options struct {
	// Atomic fails the run when the items do not fit in one transaction.
	Atomic     bool
	MaxRetries int
	RetryDelay time.Duration
	// Deadline bounds the whole run when positive. Zero means no deadline.
	Deadline time.Duration
	// AbortOn errors stop the run without retrying.
	AbortOn []error
	// Ignorable errors mark the affected set skipped.
	Ignorable []error
	OnStatus  func(TransactionStatus)
}

func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

// TransactionsManager packs items into transactions and submits them in
// order, re-planning the remaining items after every failure.
type TransactionsManager struct {
	packer    *Packer
	submitter Submitter
	signer    Signer
	budget    BudgetProvider
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewTransactionsManager(cache *LookupTableCache, submitter Submitter, signer Signer, budget BudgetProvider) *TransactionsManager {
	return &TransactionsManager{
		packer:    NewPacker(cache, signer.PublicKey(), budget.Placeholder()),
		submitter: submitter,
		signer:    signer,
		budget:    budget,
		sleep:     sleepContext,
	}
}

func (m *TransactionsManager) Packer() *Packer {
	return m.packer
}

type runState struct {
	opts     Options
	statuses *StatusLog
	pending  []*Item
}

// Run drives items to completion. The returned log is never nil; the error is
// nil when every set succeeded or was skipped.
func (m *TransactionsManager) Run(ctx context.Context, items []*Item, opts Options) (*StatusLog, error) {
	statuses := NewStatusLog(uuid.NewString(), opts.OnStatus)
	if len(items) == 0 {
		return statuses, ErrNoItems
	}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	if err := validateNames(items); err != nil {
		return statuses, err
	}
	for i, it := range items {
		it.index = i
	}
	st := &runState{opts: opts, statuses: statuses, pending: items}

	started := time.Now()
	err := m.run(ctx, st)

	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	metrics.RunDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())

	log.Info().
		Str("run", statuses.RunID).
		Int("entries", len(statuses.Entries())).
		Dur("elapsed", time.Since(started)).
		Err(err).
		Msg("[TransactionsManager] run finished")
	return statuses, err
}

func (m *TransactionsManager) run(ctx context.Context, st *runState) error {
	for attempt := 0; ; attempt++ {
		err := m.attempt(ctx, st, attempt)
		if err == nil {
			return nil
		}

		class := classify(err, st.opts)
		if class == classFatal {
			return err
		}
		if attempt >= st.opts.MaxRetries {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		delay := backoff(st.opts.RetryDelay, attempt+1)
		metrics.Retries.Inc()
		log.Warn().
			Err(err).
			Str("run", st.statuses.RunID).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("[TransactionsManager] retrying with fresh plan")

		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// attempt re-produces every pending item, packs them and submits the sets in
// order. Items of completed sets are removed from st.pending as it goes.
func (m *TransactionsManager) attempt(ctx context.Context, st *runState, attempt int) error {
	if err := m.produce(ctx, st, attempt); err != nil {
		return err
	}

	sets, err := m.packer.Pack(ctx, st.pending)
	if err != nil {
		return err
	}
	if st.opts.Atomic && len(sets) > 1 {
		return fmt.Errorf("%w: %d sets", ErrAtomicityViolation, len(sets))
	}

	st.statuses.supersede(attempt)
	for _, set := range sets {
		st.statuses.Upsert(TransactionStatus{Name: set.Name, Attempt: attempt, Status: StatusQueued, Items: set.ItemNames()})
	}

	for _, set := range sets {
		err := m.process(ctx, set, attempt, st.statuses)
		if err != nil {
			status := StatusFailed
			if classify(err, st.opts) == classIgnorable {
				status = StatusSkipped
			}
			m.record(st.statuses, set, attempt, status, err)
			metrics.SetSubmissions.WithLabelValues(string(status)).Inc()
			if status == StatusFailed {
				return err
			}
			log.Info().Err(err).Str("set", set.Name).Msg("[TransactionsManager] set skipped")
		} else {
			metrics.SetSubmissions.WithLabelValues(string(StatusSuccessful)).Inc()
		}
		st.pending = itemsAfter(st.pending, set.lastIndex())
	}
	st.pending = nil
	return nil
}

// produce invokes every pending producer. Items whose planning is ignorable
// are recorded as skipped and dropped from the run.
func (m *TransactionsManager) produce(ctx context.Context, st *runState, attempt int) error {
	kept := st.pending[:0:0]
	for _, it := range st.pending {
		err := it.Produce(ctx, attempt)
		if err == nil {
			kept = append(kept, it)
			continue
		}
		if classify(err, st.opts) != classIgnorable {
			return fmt.Errorf("produce %s: %w", it.Name, err)
		}
		st.statuses.Upsert(TransactionStatus{Name: it.Name, Attempt: attempt, Status: StatusSkipped, Error: err.Error()})
	}
	st.pending = kept
	return nil
}

func (m *TransactionsManager) process(ctx context.Context, set *Set, attempt int, statuses *StatusLog) error {
	update := func(status Status, sig string, units uint64) {
		statuses.Upsert(TransactionStatus{
			Name:         set.Name,
			Attempt:      attempt,
			Status:       status,
			Items:        set.ItemNames(),
			Signature:    sig,
			ComputeUnits: units,
		})
	}
	update(StatusProcessing, "", 0)

	blockhash, lastValid, err := m.submitter.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("%w: latest blockhash: %w", ErrNetwork, err)
	}

	tx, err := m.build(set, m.budget.Placeholder(), blockhash)
	if err != nil {
		return err
	}
	units, err := m.submitter.Simulate(ctx, tx)
	if err != nil {
		var pe *ProgramError
		if errors.As(err, &pe) {
			metrics.SimulationFailures.WithLabelValues(programErrorLabel(pe)).Inc()
		}
		return err
	}

	tx, err = m.build(set, m.budget.Instructions(ctx, units, set.WritableAccounts()), blockhash)
	if err != nil {
		return err
	}

	update(StatusAwaitingSignature, "", units)
	if err := m.signer.Sign(tx); err != nil {
		return fmt.Errorf("sign %s: %w", set.Name, err)
	}

	sig, err := m.submitter.Send(ctx, tx, lastValid)
	if err != nil {
		return err
	}
	update(StatusSuccessful, sig.String(), units)

	log.Info().
		Str("set", set.Name).
		Int("attempt", attempt).
		Str("signature", sig.String()).
		Uint64("units", units).
		Msg("[TransactionsManager] set confirmed")
	return nil
}

// validateNames keeps set names unique within an attempt: status entries
// are keyed by them.
func validateNames(items []*Item) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Name == "" || strings.Contains(it.Name, setNameSeparator) {
			return fmt.Errorf("%w: %q", ErrInvalidItemName, it.Name)
		}
		if _, dup := seen[it.Name]; dup {
			return fmt.Errorf("%w: %q used twice", ErrInvalidItemName, it.Name)
		}
		seen[it.Name] = struct{}{}
	}
	return nil
}

func (m *TransactionsManager) build(set *Set, prefix []solana.Instruction, blockhash solana.Hash) (*solana.Transaction, error) {
	ixs := append(append([]solana.Instruction{}, prefix...), set.Instructions()...)
	tx, err := compile(ixs, m.signer.PublicKey(), blockhash, set.Tables)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", set.Name, err)
	}
	return tx, nil
}

func (m *TransactionsManager) record(statuses *StatusLog, set *Set, attempt int, status Status, err error) {
	entry, _ := statuses.Get(set.Name, attempt)
	entry.Name = set.Name
	entry.Attempt = attempt
	entry.Items = set.ItemNames()
	entry.Status = status
	entry.Error = err.Error()
	entry.UpdatedAt = time.Time{}

	var pe *ProgramError
	if errors.As(err, &pe) {
		entry.ProgramError = programErrorLabel(pe)
	}
	statuses.Upsert(entry)
}

func programErrorLabel(pe *ProgramError) string {
	if pe.Name != "" {
		return pe.Name
	}
	return fmt.Sprintf("%s:%d", pe.ProgramID, pe.Code)
}

func itemsAfter(items []*Item, index int) []*Item {
	for i, it := range items {
		if it.index > index {
			return items[i:]
		}
	}
	return nil
}
