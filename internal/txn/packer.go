package txn

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/hxuan190/leverage-keeper/internal/metrics"
)

const (
	// MaxTransactionSize is the wire limit of a serialized transaction.
	MaxTransactionSize = 1232
	// MaxUniqueAccounts is the account lock limit of a transaction.
	MaxUniqueAccounts = 128

	signatureSize = 64

	setNameSeparator = "+"
)

// Set is a group of items whose instructions fit in one transaction.
type Set struct {
	Name   string
	Items  []*Item
	Tables TableSet
}

func (s *Set) Instructions() []solana.Instruction {
	var out []solana.Instruction
	for _, it := range s.Items {
		out = append(out, it.Instructions()...)
	}
	return out
}

func (s *Set) ItemNames() []string {
	names := make([]string, len(s.Items))
	for i, it := range s.Items {
		names[i] = it.Name
	}
	return names
}

// WritableAccounts lists the writable accounts of the set in first-seen order.
func (s *Set) WritableAccounts() []solana.PublicKey {
	var out []solana.PublicKey
	seen := make(map[solana.PublicKey]struct{})
	for _, ix := range s.Instructions() {
		for _, meta := range ix.Accounts() {
			if !meta.IsWritable {
				continue
			}
			if _, ok := seen[meta.PublicKey]; ok {
				continue
			}
			seen[meta.PublicKey] = struct{}{}
			out = append(out, meta.PublicKey)
		}
	}
	return out
}

func (s *Set) lastIndex() int {
	if len(s.Items) == 0 {
		return -1
	}
	return s.Items[len(s.Items)-1].index
}

func newSet(item *Item, tables TableSet) *Set {
	s := &Set{}
	s.add(item, tables)
	return s
}

func (s *Set) add(item *Item, tables TableSet) {
	s.Items = append(s.Items, item)
	s.Tables = s.Tables.Merge(tables)
	s.Name = strings.Join(s.ItemNames(), setNameSeparator)
}

// Packer greedily groups items into as few transactions as the size and
// account limits allow, preserving item order.
type Packer struct {
	cache  *LookupTableCache
	payer  solana.PublicKey
	prefix []solana.Instruction
}

// NewPacker sizes every set as if prefix (the compute budget placeholder)
// were prepended to it.
func NewPacker(cache *LookupTableCache, payer solana.PublicKey, prefix []solana.Instruction) *Packer {
	return &Packer{cache: cache, payer: payer, prefix: prefix}
}

// Pack walks items once in order. An item joins the current set when the
// result still fits; otherwise the set is closed and the item opens the next.
// Items without instructions are dropped. An item that does not fit on its
// own fails the pack with ErrTransactionTooLarge, returning the sets closed
// before it.
func (p *Packer) Pack(ctx context.Context, items []*Item) ([]*Set, error) {
	var (
		sets    []*Set
		current *Set
	)

	for _, item := range items {
		if len(item.Instructions()) == 0 {
			continue
		}

		tables, err := p.cache.Resolve(ctx, item.Tables())
		if err != nil {
			return sets, err
		}

		if current != nil {
			ixs := append(current.Instructions(), item.Instructions()...)
			ok, _, _, err := p.fits(ixs, current.Tables.Merge(tables))
			if err != nil {
				return sets, fmt.Errorf("measure %s with %s: %w", item.Name, current.Name, err)
			}
			if ok {
				current.add(item, tables)
				continue
			}
			sets = append(sets, current)
			current = nil
		}

		ok, size, accounts, err := p.fits(item.Instructions(), tables)
		if err != nil {
			return sets, fmt.Errorf("measure %s: %w", item.Name, err)
		}
		if !ok {
			return sets, fmt.Errorf("%w: item %q needs %d bytes and %d accounts", ErrTransactionTooLarge, item.Name, size, accounts)
		}
		current = newSet(item, tables)
	}

	if current != nil {
		sets = append(sets, current)
	}
	metrics.SetsPacked.Observe(float64(len(sets)))
	return sets, nil
}

// Fits reports whether the instructions, after the prefix and with the given
// lookup tables, satisfy both transaction limits.
func (p *Packer) Fits(instructions []solana.Instruction, tables TableSet) bool {
	ok, _, _, err := p.fits(instructions, tables)
	return err == nil && ok
}

func (p *Packer) fits(instructions []solana.Instruction, tables TableSet) (bool, int, int, error) {
	size, accounts, err := p.Measure(instructions, tables)
	if err != nil {
		return false, size, accounts, err
	}
	return size <= MaxTransactionSize && accounts <= MaxUniqueAccounts, size, accounts, nil
}

// Measure returns the serialized size and unique account count of a
// transaction holding the instructions.
func (p *Packer) Measure(instructions []solana.Instruction, tables TableSet) (int, int, error) {
	all := make([]solana.Instruction, 0, len(p.prefix)+len(instructions))
	all = append(all, p.prefix...)
	all = append(all, instructions...)

	accounts := uniqueAccounts(p.payer, all)

	tx, err := compile(all, p.payer, solana.Hash{}, tables)
	if err != nil {
		return 0, accounts, err
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, accounts, err
	}

	signers := int(tx.Message.Header.NumRequiredSignatures)
	return compactU16Len(signers) + signers*signatureSize + len(msg), accounts, nil
}

func uniqueAccounts(payer solana.PublicKey, instructions []solana.Instruction) int {
	seen := map[solana.PublicKey]struct{}{payer: {}}
	for _, ix := range instructions {
		seen[ix.ProgramID()] = struct{}{}
		for _, meta := range ix.Accounts() {
			seen[meta.PublicKey] = struct{}{}
		}
	}
	return len(seen)
}

// compile builds the transaction the same way for sizing and for submission,
// so a measured set serializes to the size it was packed at.
func compile(instructions []solana.Instruction, payer solana.PublicKey, blockhash solana.Hash, tables TableSet) (*solana.Transaction, error) {
	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if tables.Len() > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables.addressTables(payer, instructions)))
	}
	return solana.NewTransaction(instructions, blockhash, opts...)
}

// compactU16Len is the encoded length of n as a short-vec prefix.
func compactU16Len(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}
