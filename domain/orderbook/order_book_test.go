package orderbook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbook/infra/memory"
)

func newTestBook() *OrderBook {
	return NewOrderBook(memory.NewArena[Order](1 << 16))
}

func handles(b *OrderBook, side Side) []memory.Handle {
	var out []memory.Handle
	b.Walk(side, func(h memory.Handle, _ *Order) bool {
		out = append(out, h)
		return true
	})
	return out
}

func TestAddOrderIsLastInFirstOut(t *testing.T) {
	book := newTestBook()

	var added []memory.Handle
	for i := 0; i < 10; i++ {
		added = append(added, book.AddOrder(Buy, "STOCK1", int64(i+1), 100))
	}

	got := handles(book, Buy)
	require.Len(t, got, len(added))
	for i := range got {
		assert.Equal(t, added[len(added)-1-i], got[i])
	}
	assert.Zero(t, book.Len(Sell))
}

func TestAddOrderKeepsFields(t *testing.T) {
	book := newTestBook()
	h := book.AddOrder(Sell, "STOCK7", 42, 12.5)

	o := book.Order(h)
	assert.Equal(t, Sell, o.Side)
	assert.Equal(t, "STOCK7", o.Ticker)
	assert.EqualValues(t, 42, o.Quantity())
	assert.Equal(t, 12.5, o.Price)
	assert.Equal(t, memory.Nil, o.Next())
	assert.Equal(t, h, book.Head(Sell))
}

func TestTryAddOrderWhenArenaIsFull(t *testing.T) {
	book := NewOrderBook(memory.NewArena[Order](2))
	_, err := book.TryAddOrder(Buy, "A", 1, 10)
	require.NoError(t, err)
	_, err = book.TryAddOrder(Buy, "B", 1, 10)
	require.NoError(t, err)

	h, err := book.TryAddOrder(Buy, "C", 1, 10)
	assert.ErrorIs(t, err, memory.ErrArenaExhausted)
	assert.Equal(t, memory.Nil, h)
	assert.Equal(t, 2, book.Len(Buy))
	assert.EqualValues(t, 2, book.Stats().Added)

	assert.PanicsWithValue(t, memory.ErrArenaExhausted, func() { book.AddOrder(Sell, "D", 1, 10) })
	assert.Zero(t, book.Len(Sell))
}

func TestAddOrderAcceptsAnything(t *testing.T) {
	book := newTestBook()
	book.AddOrder(Buy, "", 0, -1)
	book.AddOrder(Sell, "X", -5, 0)
	assert.Equal(t, 1, book.Len(Buy))
	assert.Equal(t, 1, book.Len(Sell))
}

func TestConcurrentAddOrderLosesNothing(t *testing.T) {
	const (
		workers = 16
		per     = 500
	)
	book := newTestBook()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all = make(map[memory.Handle]struct{}, workers*per)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]memory.Handle, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, book.AddOrder(Buy, "STOCK1", 1, 100))
			}
			mu.Lock()
			for _, h := range local {
				all[h] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	got := handles(book, Buy)
	require.Len(t, got, workers*per)
	seen := make(map[memory.Handle]struct{}, len(got))
	for _, h := range got {
		_, dup := seen[h]
		require.False(t, dup, "handle %d linked twice", h)
		seen[h] = struct{}{}
		_, ok := all[h]
		require.True(t, ok, "handle %d was never returned by AddOrder", h)
	}
	assert.EqualValues(t, workers*per, book.Stats().Added)
}

func TestMatchPartialFill(t *testing.T) {
	book := newTestBook()
	buy := book.AddOrder(Buy, "STOCK1", 50, 100.0)
	book.AddOrder(Sell, "STOCK1", 30, 90.0)

	execs := book.MatchOrders()
	require.Len(t, execs, 1)
	assert.EqualValues(t, 30, execs[0].Quantity)
	assert.Equal(t, "STOCK1", execs[0].Ticker)
	assert.Equal(t, 90.0, execs[0].Price)
	assert.False(t, execs[0].BuyFilled)
	assert.True(t, execs[0].SellFilled)

	assert.Equal(t, []memory.Handle{buy}, handles(book, Buy))
	assert.EqualValues(t, 20, book.Order(buy).Quantity())
	assert.Equal(t, memory.Nil, book.Head(Sell))
}

func TestMatchNoCross(t *testing.T) {
	book := newTestBook()
	buy := book.AddOrder(Buy, "STOCK1", 10, 80.0)
	sell := book.AddOrder(Sell, "STOCK1", 10, 100.0)

	assert.Empty(t, book.MatchOrders())
	assert.EqualValues(t, 10, book.Order(buy).Quantity())
	assert.EqualValues(t, 10, book.Order(sell).Quantity())
	assert.Equal(t, buy, book.Head(Buy))
	assert.Equal(t, sell, book.Head(Sell))
}

func TestMatchExactFillEmptiesBothSides(t *testing.T) {
	book := newTestBook()
	book.AddOrder(Buy, "STOCK1", 10, 100.0)
	book.AddOrder(Sell, "STOCK1", 10, 100.0)

	execs := book.MatchOrders()
	require.Len(t, execs, 1)
	assert.True(t, execs[0].BuyFilled)
	assert.True(t, execs[0].SellFilled)
	assert.Equal(t, memory.Nil, book.Head(Buy))
	assert.Equal(t, memory.Nil, book.Head(Sell))
}

func TestMatchReportsBuyTickerAcrossInstruments(t *testing.T) {
	book := newTestBook()
	book.AddOrder(Buy, "AAA", 5, 10.0)
	book.AddOrder(Sell, "BBB", 5, 9.0)

	execs := book.MatchOrders()
	require.Len(t, execs, 1)
	assert.Equal(t, "AAA", execs[0].Ticker)
	assert.Equal(t, 9.0, execs[0].Price)
}

func TestMatchUnlinksFromMiddle(t *testing.T) {
	book := newTestBook()
	tail := book.AddOrder(Buy, "STOCK1", 10, 100)
	mid := book.AddOrder(Buy, "STOCK1", 10, 100)
	head := book.AddOrder(Buy, "STOCK1", 10, 50)
	book.AddOrder(Sell, "STOCK1", 10, 90)

	execs := book.MatchOrders()
	require.Len(t, execs, 1)
	assert.Equal(t, mid, execs[0].Buy)

	assert.Equal(t, []memory.Handle{head, tail}, handles(book, Buy))
	assert.Zero(t, book.Len(Sell))
}

func TestMatchPartialFillAdvancesPastOrder(t *testing.T) {
	book := newTestBook()
	buy := book.AddOrder(Buy, "STOCK1", 50, 100)
	lower := book.AddOrder(Sell, "STOCK1", 30, 90)
	book.AddOrder(Sell, "STOCK1", 30, 90)

	execs := book.MatchOrders()
	require.Len(t, execs, 1, "the buy cursor moves on after a partial fill")
	assert.EqualValues(t, 20, book.Order(buy).Quantity())
	assert.Equal(t, []memory.Handle{lower}, handles(book, Sell))
	assert.EqualValues(t, 30, book.Order(lower).Quantity())
}

func TestMatchIsGreedyInStackOrder(t *testing.T) {
	book := newTestBook()
	book.AddOrder(Buy, "STOCK1", 10, 95)
	book.AddOrder(Buy, "STOCK1", 10, 90)
	book.AddOrder(Sell, "STOCK1", 10, 80)
	book.AddOrder(Sell, "STOCK1", 10, 100)

	// Both buys are compared against the 100 ask only; the 80 ask is
	// never reached in this pass.
	assert.Empty(t, book.MatchOrders())
	assert.Equal(t, 2, book.Len(Buy))
	assert.Equal(t, 2, book.Len(Sell))
}

func TestMatchEmptyBook(t *testing.T) {
	book := newTestBook()
	assert.Empty(t, book.MatchOrders())

	book.AddOrder(Buy, "STOCK1", 1, 1)
	assert.Empty(t, book.MatchOrders())
}

func TestMatchIsRepeatable(t *testing.T) {
	book := newTestBook()
	book.AddOrder(Buy, "STOCK1", 10, 100)
	book.AddOrder(Sell, "STOCK1", 4, 90)

	require.Len(t, book.MatchOrders(), 1)

	book.AddOrder(Sell, "STOCK1", 6, 95)
	execs := book.MatchOrders()
	require.Len(t, execs, 1)
	assert.EqualValues(t, 6, execs[0].Quantity)
	assert.Zero(t, book.Len(Buy))
	assert.Zero(t, book.Len(Sell))
}
