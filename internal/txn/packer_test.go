package txn

import (
	"context"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPacker(fetcher TableFetcher) *Packer {
	return NewPacker(NewLookupTableCache(fetcher), testPayer, fakeBudget{}.Placeholder())
}

func produceAll(t *testing.T, items []*Item) {
	t.Helper()
	for _, it := range items {
		require.NoError(t, it.Produce(context.Background(), 0))
	}
}

func setNames(sets []*Set) []string {
	names := make([]string, len(sets))
	for i, s := range sets {
		names[i] = s.Name
	}
	return names
}

func assertWithinLimits(t *testing.T, p *Packer, sets []*Set) {
	t.Helper()
	for _, s := range sets {
		size, accounts, err := p.Measure(s.Instructions(), s.Tables)
		require.NoError(t, err)
		assert.LessOrEqual(t, size, MaxTransactionSize, "set %s", s.Name)
		assert.LessOrEqual(t, accounts, MaxUniqueAccounts, "set %s", s.Name)
	}
}

func TestPackKeepsOrderAndLimits(t *testing.T) {
	var items []*Item
	for i := 1; i <= 12; i++ {
		items = append(items, staticItem(fmt.Sprintf("item-%d", i), 100, keys(i*10, 3)...))
	}
	produceAll(t, items)

	p := newTestPacker(nil)
	sets, err := p.Pack(context.Background(), items)
	require.NoError(t, err)
	require.Greater(t, len(sets), 1)

	var flattened []string
	for _, s := range sets {
		flattened = append(flattened, s.ItemNames()...)
	}
	for i, name := range flattened {
		assert.Equal(t, fmt.Sprintf("item-%d", i+1), name)
	}
	assertWithinLimits(t, p, sets)

	// greedy: no set could have taken the first item of the next one
	for i := 0; i+1 < len(sets); i++ {
		ixs := append(sets[i].Instructions(), sets[i+1].Items[0].Instructions()...)
		assert.False(t, p.Fits(ixs, TableSet{}))
	}
}

func TestPackIsDeterministic(t *testing.T) {
	var items []*Item
	for i := 1; i <= 9; i++ {
		items = append(items, staticItem(fmt.Sprintf("item-%d", i), 60*i, keys(i*10, i)...))
	}
	produceAll(t, items)
	p := newTestPacker(nil)

	first, err := p.Pack(context.Background(), items)
	require.NoError(t, err)
	for range 5 {
		again, err := p.Pack(context.Background(), items)
		require.NoError(t, err)
		assert.Equal(t, setNames(first), setNames(again))
	}
}

func TestPackOversizedItem(t *testing.T) {
	var items []*Item
	for i := 1; i <= 10; i++ {
		size := 100
		if i == 7 {
			size = 1_300
		}
		items = append(items, staticItem(fmt.Sprintf("item-%d", i), size, keys(i*10, 3)...))
	}
	produceAll(t, items)

	p := newTestPacker(nil)
	sets, err := p.Pack(context.Background(), items)
	require.ErrorIs(t, err, ErrTransactionTooLarge)
	assert.Contains(t, err.Error(), `"item-7"`)

	var packed []string
	for _, s := range sets {
		packed = append(packed, s.ItemNames()...)
	}
	assert.Equal(t, []string{"item-1", "item-2", "item-3", "item-4", "item-5", "item-6"}, packed)
	assertWithinLimits(t, p, sets)
}

func TestPackDropsEmptyItems(t *testing.T) {
	empty := NewItem("noop", func(context.Context, int) (*Fragment, error) { return nil, nil })
	items := []*Item{staticItem("a", 50, key(1)), empty, staticItem("b", 50, key(2))}
	produceAll(t, items)

	sets, err := newTestPacker(nil).Pack(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "a+b", sets[0].Name)

	sets, err = newTestPacker(nil).Pack(context.Background(), []*Item{empty})
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestPackAccountLimitWithLookupTables(t *testing.T) {
	table := key(9_999)
	fetcher := newFakeFetcher()
	fetcher.tables[table] = keys(1, 250)

	var items []*Item
	for i := 0; i < 5; i++ {
		items = append(items, StaticItem(
			fmt.Sprintf("wide-%d", i),
			[]solana.Instruction{namedIx(fmt.Sprintf("wide-%d", i), 10, keys(1+i*50, 50)...)},
			table,
		))
	}
	produceAll(t, items)

	p := newTestPacker(fetcher)
	sets, err := p.Pack(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, []string{"wide-0+wide-1", "wide-2+wide-3", "wide-4"}, setNames(sets))
	assert.Equal(t, 1, fetcher.calls[table], "lookup table fetched once per run")
	assertWithinLimits(t, p, sets)

	_, accounts, err := p.Measure(append(sets[0].Instructions(), items[2].Instructions()...), sets[0].Tables)
	require.NoError(t, err)
	assert.Greater(t, accounts, MaxUniqueAccounts)
}

func TestPackMergesFragmentTables(t *testing.T) {
	declared, fromQuote := key(8_001), key(8_002)
	fetcher := newFakeFetcher()
	fetcher.tables[declared] = keys(100, 10)
	fetcher.tables[fromQuote] = keys(200, 10)

	item := NewItem("swap", func(context.Context, int) (*Fragment, error) {
		return &Fragment{
			Instructions: []solana.Instruction{namedIx("swap", 20, keys(100, 5)...)},
			LookupTables: []solana.PublicKey{fromQuote, declared},
		}, nil
	}, declared)
	produceAll(t, []*Item{item})

	assert.Equal(t, []solana.PublicKey{declared, fromQuote}, item.Tables())

	sets, err := newTestPacker(fetcher).Pack(context.Background(), []*Item{item})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, []solana.PublicKey{declared, fromQuote}, sets[0].Tables.Addresses())
}

func TestLookupTableCacheSeeded(t *testing.T) {
	cache := NewLookupTableCache(nil)
	addr := key(1)
	cache.Seed(addr, keys(10, 3))

	tables, err := cache.Resolve(context.Background(), []solana.PublicKey{addr})
	require.NoError(t, err)
	assert.Len(t, tables.Members(addr), 3)
	assert.Equal(t, 0, cache.Fetches())

	_, err = cache.Resolve(context.Background(), []solana.PublicKey{key(2)})
	assert.Error(t, err)
}

// overlappingTables returns two tables that both hold shared.
func overlappingTables(only, shared solana.PublicKey) (*fakeFetcher, solana.PublicKey, solana.PublicKey) {
	first, second := key(9_001), key(9_002)
	fetcher := newFakeFetcher()
	fetcher.tables[first] = solana.PublicKeySlice{only, shared}
	fetcher.tables[second] = solana.PublicKeySlice{shared}
	return fetcher, first, second
}

func TestMeasureWithOverlappingTablesIsStable(t *testing.T) {
	x, z := key(1), key(2)
	fetcher, first, second := overlappingTables(x, z)
	p := newTestPacker(fetcher)

	both, err := p.cache.Resolve(context.Background(), []solana.PublicKey{first, second})
	require.NoError(t, err)
	firstOnly, err := p.cache.Resolve(context.Background(), []solana.PublicKey{first})
	require.NoError(t, err)

	ixs := []solana.Instruction{namedIx("a", 40, x, z)}
	want, _, err := p.Measure(ixs, firstOnly)
	require.NoError(t, err)

	sizes := map[int]int{}
	for range 200 {
		size, _, err := p.Measure(ixs, both)
		require.NoError(t, err)
		sizes[size]++
	}
	assert.Equal(t, map[int]int{want: 200}, sizes, "shared address always resolves through the first table")
}

func TestAddressTablesKeepFirstOwner(t *testing.T) {
	x, z := key(1), key(2)
	fetcher, first, second := overlappingTables(x, z)
	p := newTestPacker(fetcher)

	tables, err := p.cache.Resolve(context.Background(), []solana.PublicKey{first, second})
	require.NoError(t, err)

	ixs := []solana.Instruction{namedIx("a", 10, x, z)}
	compiled := tables.addressTables(testPayer, ixs)
	assert.Equal(t, solana.PublicKeySlice{x, z}, compiled[first])
	require.Len(t, compiled[second], 1, "indexes of later tables do not move")
	assert.NotEqual(t, z, compiled[second][0])
	assert.Equal(t, solana.PublicKeySlice{z}, tables.Members(second), "resolved members are not modified")

	tx, err := compile(append(fakeBudget{}.Placeholder(), ixs...), testPayer, solana.Hash{}, tables)
	require.NoError(t, err)
	require.Len(t, tx.Message.AddressTableLookups, 1)
	assert.Equal(t, first, tx.Message.AddressTableLookups[0].AccountKey)
}

func TestPackWithOverlappingTablesIsDeterministic(t *testing.T) {
	x, z := key(1), key(2)
	fetcher, first, second := overlappingTables(x, z)

	// walk item b across the size limit so some pairs sit right at it
	for size := 600; size <= 950; size += 2 {
		items := []*Item{
			StaticItem("a", []solana.Instruction{namedIx("a", 100, x, z)}, first),
			StaticItem("b", []solana.Instruction{namedIx("b", size, z)}, second),
		}
		produceAll(t, items)
		p := newTestPacker(fetcher)

		partitions := map[string]int{}
		for range 20 {
			sets, err := p.Pack(context.Background(), items)
			require.NoError(t, err)
			assertWithinLimits(t, p, sets)
			partitions[fmt.Sprint(setNames(sets))]++
		}
		assert.Len(t, partitions, 1, "b at %d bytes: %v", size, partitions)
	}
}

func TestPackReportsMeasureErrors(t *testing.T) {
	table := key(9_500)
	fetcher := newFakeFetcher()
	fetcher.tables[table] = keys(1, 300)

	items := []*Item{StaticItem("wide", []solana.Instruction{namedIx("wide", 10, key(1))}, table)}
	produceAll(t, items)

	sets, err := newTestPacker(fetcher).Pack(context.Background(), items)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransactionTooLarge)
	assert.Contains(t, err.Error(), "max lookup table index")
	assert.Contains(t, err.Error(), "wide")
	assert.Empty(t, sets)
}

func TestCompactU16Len(t *testing.T) {
	assert.Equal(t, 1, compactU16Len(0))
	assert.Equal(t, 1, compactU16Len(127))
	assert.Equal(t, 2, compactU16Len(128))
	assert.Equal(t, 2, compactU16Len(16_383))
	assert.Equal(t, 3, compactU16Len(16_384))
}

func BenchmarkPack(b *testing.B) {
	var items []*Item
	for i := 1; i <= 20; i++ {
		items = append(items, staticItem(fmt.Sprintf("item-%d", i), 80, keys(i*10, 4)...))
	}
	for _, it := range items {
		_ = it.Produce(context.Background(), 0)
	}
	p := newTestPacker(nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Pack(context.Background(), items)
	}
}
