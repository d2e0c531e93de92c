package txn

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Fragment is the output of one producer call.
type Fragment struct {
	Instructions []solana.Instruction
	LookupTables []solana.PublicKey
}

func (f *Fragment) Empty() bool {
	return f == nil || len(f.Instructions) == 0
}

// Producer builds an item's instructions for a given attempt (0 on the first
// pass). It is re-invoked on every retry and must derive its output only from
// the attempt number and state it fetches during the call. Producers must not
// mutate anything the next invocation reads. Returning a nil fragment drops
// the item from the run.
type Producer func(ctx context.Context, attempt int) (*Fragment, error)

// Item is a named, lazily recomputed group of instructions that must land in
// the same transaction.
type Item struct {
	Name         string
	LookupTables []solana.PublicKey

	producer Producer
	fragment *Fragment
	index    int
}

func NewItem(name string, producer Producer, lookupTables ...solana.PublicKey) *Item {
	return &Item{Name: name, LookupTables: lookupTables, producer: producer}
}

// StaticItem wraps instructions that never change between attempts.
func StaticItem(name string, instructions []solana.Instruction, lookupTables ...solana.PublicKey) *Item {
	return NewItem(name, func(context.Context, int) (*Fragment, error) {
		return &Fragment{Instructions: instructions}, nil
	}, lookupTables...)
}

// Produce invokes the producer and keeps its fragment.
func (i *Item) Produce(ctx context.Context, attempt int) error {
	fragment, err := i.producer(ctx, attempt)
	if err != nil {
		i.fragment = nil
		return err
	}
	i.fragment = fragment
	return nil
}

func (i *Item) Fragment() *Fragment {
	return i.fragment
}

func (i *Item) Instructions() []solana.Instruction {
	if i.fragment == nil {
		return nil
	}
	return i.fragment.Instructions
}

// Tables returns the declared lookup tables followed by the ones the last
// fragment asked for, without duplicates.
func (i *Item) Tables() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(i.LookupTables))
	seen := make(map[solana.PublicKey]struct{}, len(i.LookupTables))
	add := func(keys []solana.PublicKey) {
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	add(i.LookupTables)
	if i.fragment != nil {
		add(i.fragment.LookupTables)
	}
	return out
}
