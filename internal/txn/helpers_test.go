package txn

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	testProgram   = key(1_000_000)
	budgetProgram = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	testPayer     = key(2_000_000)
)

func key(n int) solana.PublicKey {
	var b [32]byte
	b[0] = 7
	binary.BigEndian.PutUint32(b[28:], uint32(n))
	return solana.PublicKeyFromBytes(b[:])
}

func keys(from, n int) []solana.PublicKey {
	out := make([]solana.PublicKey, n)
	for i := range out {
		out[i] = key(from + i)
	}
	return out
}

// namedIx carries the item name at the start of its data so tests can tell
// which items ended up in a transaction.
func namedIx(name string, dataSize int, accounts ...solana.PublicKey) solana.Instruction {
	if dataSize < len(name) {
		dataSize = len(name)
	}
	data := make([]byte, dataSize)
	copy(data, name)

	metas := make(solana.AccountMetaSlice, 0, len(accounts))
	for _, acc := range accounts {
		metas = append(metas, solana.Meta(acc).WRITE())
	}
	return solana.NewInstruction(testProgram, metas, data)
}

func staticItem(name string, dataSize int, accounts ...solana.PublicKey) *Item {
	return StaticItem(name, []solana.Instruction{namedIx(name, dataSize, accounts...)})
}

type fakeBudget struct{}

func budgetIxs(units uint32, price uint64) []solana.Instruction {
	limit := make([]byte, 5)
	limit[0] = 2
	binary.LittleEndian.PutUint32(limit[1:], units)
	fee := make([]byte, 9)
	fee[0] = 3
	binary.LittleEndian.PutUint64(fee[1:], price)
	return []solana.Instruction{
		solana.NewInstruction(budgetProgram, nil, limit),
		solana.NewInstruction(budgetProgram, nil, fee),
	}
}

func (fakeBudget) Placeholder() []solana.Instruction {
	return budgetIxs(1_400_000, 0)
}

func (fakeBudget) Instructions(_ context.Context, units uint64, _ []solana.PublicKey) []solana.Instruction {
	return budgetIxs(uint32(units), 1_000)
}

type fakeSigner struct{}

func (fakeSigner) PublicKey() solana.PublicKey { return testPayer }

func (fakeSigner) Sign(*solana.Transaction) error { return nil }

type fakeFetcher struct {
	mu     sync.Mutex
	tables map[solana.PublicKey]solana.PublicKeySlice
	calls  map[solana.PublicKey]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		tables: make(map[solana.PublicKey]solana.PublicKeySlice),
		calls:  make(map[solana.PublicKey]int),
	}
}

func (f *fakeFetcher) FetchTable(_ context.Context, address solana.PublicKey) (solana.PublicKeySlice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	return f.tables[address], nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	simulate  func(tx *solana.Transaction) (uint64, error)
	send      func(tx *solana.Transaction, call int) error
	sendCalls int
	sent      [][]string
}

func (f *fakeSubmitter) LatestBlockhash(context.Context) (solana.Hash, uint64, error) {
	return solana.Hash{1}, 1_000, nil
}

func (f *fakeSubmitter) Simulate(_ context.Context, tx *solana.Transaction) (uint64, error) {
	if f.simulate != nil {
		return f.simulate(tx)
	}
	return 50_000, nil
}

func (f *fakeSubmitter) Send(_ context.Context, tx *solana.Transaction, _ uint64) (solana.Signature, error) {
	f.mu.Lock()
	f.sendCalls++
	call := f.sendCalls
	f.mu.Unlock()

	if f.send != nil {
		if err := f.send(tx, call); err != nil {
			return solana.Signature{}, err
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, txItems(tx))
	f.mu.Unlock()
	return solana.Signature{byte(call)}, nil
}

// txItems lists the item names carried by a transaction's instructions.
func txItems(tx *solana.Transaction) []string {
	var names []string
	for _, ci := range tx.Message.Instructions {
		if tx.Message.AccountKeys[ci.ProgramIDIndex] != testProgram {
			continue
		}
		names = append(names, strings.TrimRight(string(ci.Data), "\x00"))
	}
	return names
}

func newTestManager(sub *fakeSubmitter, fetcher TableFetcher) (*TransactionsManager, *[]time.Duration) {
	m := NewTransactionsManager(NewLookupTableCache(fetcher), sub, fakeSigner{}, fakeBudget{})
	delays := &[]time.Duration{}
	m.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return m, delays
}
