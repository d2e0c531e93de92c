package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hxuan190/leverage-keeper/internal/metrics"
	"github.com/hxuan190/leverage-keeper/internal/txn"
)

var ErrLookupTableInactive = errors.New("address lookup table is deactivated")

// BlockhashSource is satisfied by BlockhashCacheService.
type BlockhashSource interface {
	GetBlockhash(ctx context.Context) (solana.Hash, uint64, error)
}

type AdapterOptions struct {
	RateLimit       float64
	RateBurst       int
	PollInterval    time.Duration
	ResendEvery     int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultAdapterOptions() AdapterOptions {
	return AdapterOptions{
		RateLimit:       20,
		RateBurst:       40,
		PollInterval:    500 * time.Millisecond,
		ResendEvery:     4,
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}
}

// RPCAdapter is the keeper's only door to the ledger. Every call goes through
// one rate limiter and one circuit breaker.
type RPCAdapter struct {
	client    *rpc.Client
	blockhash BlockhashSource
	registry  *txn.ErrorRegistry
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	opts      AdapterOptions
}

var (
	_ txn.Submitter    = (*RPCAdapter)(nil)
	_ txn.TableFetcher = (*RPCAdapter)(nil)
)

func NewRPCAdapter(client *rpc.Client, blockhash BlockhashSource, registry *txn.ErrorRegistry, opts AdapterOptions) *RPCAdapter {
	settings := gobreaker.Settings{
		Name:        "rpc",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[RPCAdapter] circuit breaker state changed")
		},
	}

	return &RPCAdapter{
		client:    client,
		blockhash: blockhash,
		registry:  registry,
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
		opts:      opts,
	}
}

func (a *RPCAdapter) call(ctx context.Context, method string, fn func() (interface{}, error)) (interface{}, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := a.breaker.Execute(fn)
	if err != nil {
		metrics.RPCRequests.WithLabelValues(method, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", txn.ErrNetwork, method, err)
	}
	metrics.RPCRequests.WithLabelValues(method, "ok").Inc()
	return out, nil
}

func (a *RPCAdapter) LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	return a.blockhash.GetBlockhash(ctx)
}

// Simulate runs tx without signature verification. Missing signatures are
// zero-filled so the message passes sanitization.
func (a *RPCAdapter) Simulate(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	if required := int(tx.Message.Header.NumRequiredSignatures); len(tx.Signatures) < required {
		tx.Signatures = make([]solana.Signature, required)
	}

	out, err := a.call(ctx, "simulateTransaction", func() (interface{}, error) {
		return a.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
			SigVerify:              false,
			Commitment:             rpc.CommitmentConfirmed,
			ReplaceRecentBlockhash: true,
		})
	})
	if err != nil {
		return 0, err
	}

	res := out.(*rpc.SimulateTransactionResponse)
	if res.Value == nil {
		return 0, fmt.Errorf("%w: empty simulation result", txn.ErrNetwork)
	}
	if res.Value.Err != nil {
		return 0, DecodeTransactionError(a.registry, tx, res.Value.Err, res.Value.Logs)
	}

	var units uint64
	if res.Value.UnitsConsumed != nil {
		units = *res.Value.UnitsConsumed
	}
	return units, nil
}

// Send broadcasts tx and polls its status until it is confirmed, fails on
// chain, or the chain moves past lastValidBlockHeight.
func (a *RPCAdapter) Send(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error) {
	send := func() (solana.Signature, error) {
		out, err := a.call(ctx, "sendTransaction", func() (interface{}, error) {
			return a.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
				SkipPreflight:       true,
				PreflightCommitment: rpc.CommitmentConfirmed,
			})
		})
		if err != nil {
			return solana.Signature{}, err
		}
		return out.(solana.Signature), nil
	}

	sig, err := send()
	if err != nil {
		return solana.Signature{}, err
	}

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return sig, ctx.Err()
		case <-ticker.C:
		}

		done, err := a.confirmed(ctx, tx, sig)
		if err != nil || done {
			return sig, err
		}

		height, err := a.blockHeight(ctx)
		if err != nil {
			log.Debug().Err(err).Str("signature", sig.String()).Msg("[RPCAdapter] block height unavailable")
			continue
		}
		if height > lastValidBlockHeight {
			return sig, fmt.Errorf("%w: %s at height %d > %d", txn.ErrSubmissionTimeout, sig, height, lastValidBlockHeight)
		}

		if a.opts.ResendEvery > 0 && polls%a.opts.ResendEvery == 0 {
			if _, err := send(); err != nil {
				log.Debug().Err(err).Str("signature", sig.String()).Msg("[RPCAdapter] rebroadcast failed")
			}
		}
	}
}

func (a *RPCAdapter) confirmed(ctx context.Context, tx *solana.Transaction, sig solana.Signature) (bool, error) {
	out, err := a.call(ctx, "getSignatureStatuses", func() (interface{}, error) {
		return a.client.GetSignatureStatuses(ctx, false, sig)
	})
	if err != nil {
		log.Debug().Err(err).Str("signature", sig.String()).Msg("[RPCAdapter] status poll failed")
		return false, nil
	}

	res := out.(*rpc.GetSignatureStatusesResult)
	if len(res.Value) == 0 || res.Value[0] == nil {
		return false, nil
	}
	status := res.Value[0]
	if status.Err != nil {
		return true, DecodeTransactionError(a.registry, tx, status.Err, nil)
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}

func (a *RPCAdapter) blockHeight(ctx context.Context) (uint64, error) {
	out, err := a.call(ctx, "getBlockHeight", func() (interface{}, error) {
		return a.client.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return 0, err
	}
	return out.(uint64), nil
}

// FetchAccounts reads accounts in one request. Missing accounts are nil.
func (a *RPCAdapter) FetchAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, error) {
	start := time.Now()
	defer func() { metrics.StateFetchDuration.Observe(time.Since(start).Seconds()) }()

	out, err := a.call(ctx, "getMultipleAccounts", func() (interface{}, error) {
		return a.client.GetMultipleAccountsWithOpts(ctx, addresses, &rpc.GetMultipleAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
	})
	if err != nil {
		return nil, err
	}

	res := out.(*rpc.GetMultipleAccountsResult)
	data := make([][]byte, len(addresses))
	for i, acc := range res.Value {
		if i >= len(data) {
			break
		}
		if acc == nil || acc.Data == nil {
			continue
		}
		data[i] = acc.Data.GetBinary()
	}
	return data, nil
}

// FetchTable loads the members of an active lookup table.
func (a *RPCAdapter) FetchTable(ctx context.Context, address solana.PublicKey) (solana.PublicKeySlice, error) {
	out, err := a.call(ctx, "getAddressLookupTable", func() (interface{}, error) {
		return addresslookuptable.GetAddressLookupTable(ctx, a.client, address)
	})
	if err != nil {
		return nil, err
	}

	state := out.(*addresslookuptable.AddressLookupTableState)
	if !state.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrLookupTableInactive, address)
	}
	log.Debug().
		Str("lut", address.String()).
		Int("addresses", len(state.Addresses)).
		Msg("[RPCAdapter] loaded lookup table")
	return state.Addresses, nil
}
