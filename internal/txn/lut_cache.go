package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
)

// TableFetcher loads the members of an address lookup table.
type TableFetcher interface {
	FetchTable(ctx context.Context, address solana.PublicKey) (solana.PublicKeySlice, error)
}

// LookupTableCache memoises lookup table contents for the lifetime of a run.
// Entries are only ever added; tables are assumed stable while a run lasts.
type LookupTableCache struct {
	fetcher TableFetcher

	mu      sync.RWMutex
	tables  map[solana.PublicKey]solana.PublicKeySlice
	fetches int
}

func NewLookupTableCache(fetcher TableFetcher) *LookupTableCache {
	return &LookupTableCache{
		fetcher: fetcher,
		tables:  make(map[solana.PublicKey]solana.PublicKeySlice),
	}
}

// Seed stores a table whose members are already known.
func (c *LookupTableCache) Seed(address solana.PublicKey, members solana.PublicKeySlice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[address]; !ok {
		c.tables[address] = members
	}
}

// Resolve returns the members of every address in order, fetching only the
// tables not seen before in this run.
func (c *LookupTableCache) Resolve(ctx context.Context, addresses []solana.PublicKey) (TableSet, error) {
	var out TableSet
	for _, addr := range addresses {
		c.mu.RLock()
		members, ok := c.tables[addr]
		c.mu.RUnlock()

		if !ok {
			if c.fetcher == nil {
				return TableSet{}, fmt.Errorf("lookup table %s not seeded and no fetcher configured", addr)
			}
			fetched, err := c.fetcher.FetchTable(ctx, addr)
			if err != nil {
				return TableSet{}, fmt.Errorf("fetch lookup table %s: %w", addr, err)
			}

			c.mu.Lock()
			if existing, raced := c.tables[addr]; raced {
				fetched = existing
			} else {
				c.tables[addr] = fetched
				c.fetches++
			}
			c.mu.Unlock()

			log.Debug().
				Str("lut", addr.String()).
				Int("addresses", len(fetched)).
				Msg("[LookupTableCache] loaded table")
			members = fetched
		}
		out = out.with(addr, members)
	}
	return out, nil
}

func (c *LookupTableCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

// Fetches is the number of remote loads performed so far.
func (c *LookupTableCache) Fetches() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetches
}

// TableSet is an ordered collection of resolved lookup tables. Order is the
// order tables were declared by the items of a set.
type TableSet struct {
	order   []solana.PublicKey
	members map[solana.PublicKey]solana.PublicKeySlice
}

func (t TableSet) Len() int {
	return len(t.order)
}

func (t TableSet) Addresses() []solana.PublicKey {
	return append([]solana.PublicKey(nil), t.order...)
}

func (t TableSet) Members(address solana.PublicKey) solana.PublicKeySlice {
	return t.members[address]
}

// with returns a copy holding address as well. Known tables keep their place.
func (t TableSet) with(address solana.PublicKey, members solana.PublicKeySlice) TableSet {
	if _, ok := t.members[address]; ok {
		return t
	}
	next := TableSet{
		order:   make([]solana.PublicKey, len(t.order), len(t.order)+1),
		members: make(map[solana.PublicKey]solana.PublicKeySlice, len(t.members)+1),
	}
	copy(next.order, t.order)
	for k, v := range t.members {
		next.members[k] = v
	}
	next.order = append(next.order, address)
	next.members[address] = members
	return next
}

// Merge appends the tables of other that t does not hold yet.
func (t TableSet) Merge(other TableSet) TableSet {
	out := t
	for _, addr := range other.order {
		out = out.with(addr, other.members[addr])
	}
	return out
}

// addressTables is the table map handed to transaction compilation. An
// address held by several tables stays only in the first one in order; later
// copies are overwritten with a key no instruction references. Indexes are
// positions in the on-chain table and must not move.
func (t TableSet) addressTables(payer solana.PublicKey, instructions []solana.Instruction) map[solana.PublicKey]solana.PublicKeySlice {
	used := map[solana.PublicKey]struct{}{payer: {}}
	for _, ix := range instructions {
		used[ix.ProgramID()] = struct{}{}
		for _, meta := range ix.Accounts() {
			used[meta.PublicKey] = struct{}{}
		}
	}
	filler := fillerKey(used)

	owner := make(map[solana.PublicKey]solana.PublicKey)
	out := make(map[solana.PublicKey]solana.PublicKeySlice, len(t.order))
	for _, table := range t.order {
		members := t.members[table]
		var shadowed solana.PublicKeySlice
		for i, member := range members {
			if first, ok := owner[member]; ok && !first.Equals(table) {
				if shadowed == nil {
					shadowed = append(solana.PublicKeySlice(nil), members...)
				}
				shadowed[i] = filler
				continue
			}
			owner[member] = table
		}
		if shadowed != nil {
			members = shadowed
		}
		out[table] = members
	}
	return out
}

// fillerKey returns a key outside used.
func fillerKey(used map[solana.PublicKey]struct{}) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = 0xff
	}
	for {
		if _, ok := used[k]; !ok {
			return k
		}
		k[0]--
	}
}
