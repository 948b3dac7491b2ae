package orderbook

import (
	"sync/atomic"

	"stockbook/infra/memory"
)

// OrderBook holds one lock-free stack of resting orders per side.
type OrderBook struct {
	arena *memory.Arena[Order]
	heads [2]atomic.Uint32

	added      atomic.Uint64
	casRetries atomic.Uint64
}

// Stats are cumulative counters since the book was created.
type Stats struct {
	Added      uint64
	CASRetries uint64
}

// NewOrderBook creates an empty book storing its orders in arena.
func NewOrderBook(arena *memory.Arena[Order]) *OrderBook {
	return &OrderBook{arena: arena}
}

// AddOrder publishes a new order as the head of side's stack and returns
// its handle. It is safe for concurrent use and never blocks: a lost
// compare-and-swap re-reads the head and tries again. No argument is
// validated.
//
// AddOrder panics with memory.ErrArenaExhausted when the arena is full;
// TryAddOrder reports it instead.
func (b *OrderBook) AddOrder(side Side, ticker string, quantity int64, price float64) memory.Handle {
	h, err := b.TryAddOrder(side, ticker, quantity, price)
	if err != nil {
		panic(err)
	}
	return h
}

// TryAddOrder is AddOrder returning memory.ErrArenaExhausted when no order
// slot is free. The book is left unchanged in that case.
func (b *OrderBook) TryAddOrder(side Side, ticker string, quantity int64, price float64) (memory.Handle, error) {
	h, o, err := b.arena.TryAlloc()
	if err != nil {
		return memory.Nil, err
	}
	o.init(side, ticker, quantity, price)

	head := b.stack(side)
	for {
		cur := head.Load()
		o.next.Store(cur)
		if head.CompareAndSwap(cur, uint32(h)) {
			break
		}
		b.casRetries.Add(1)
	}
	b.added.Add(1)
	return h, nil
}

// MatchOrders walks both stacks from their heads and pairs orders whose
// buy price is at least the sell price, returning one Execution per match
// in the order they happened.
//
// A matched order that is not fully filled stays linked and the cursor
// moves past it; a fully filled one is unlinked. When a pair does not
// match only the buy cursor advances, so this is a single greedy pass in
// stack order, not a price-priority match. Tickers are not compared.
//
// MatchOrders must not run concurrently with itself or with AddOrder.
func (b *OrderBook) MatchOrders() []Execution {
	var out []Execution

	buy := b.Head(Buy)
	sell := b.Head(Sell)
	prevBuy, prevSell := memory.Nil, memory.Nil

	for buy != memory.Nil && sell != memory.Nil {
		bo := b.arena.Get(buy)
		so := b.arena.Get(sell)

		if bo.Price < so.Price {
			prevBuy = buy
			buy = bo.Next()
			continue
		}

		matched := min(bo.Quantity(), so.Quantity())
		buyLeft := bo.quantity.Add(-matched)
		sellLeft := so.quantity.Add(-matched)

		out = append(out, Execution{
			Quantity:   matched,
			Ticker:     bo.Ticker,
			Price:      so.Price,
			Buy:        buy,
			Sell:       sell,
			BuyFilled:  buyLeft == 0,
			SellFilled: sellLeft == 0,
		})

		nextBuy := bo.Next()
		if buyLeft == 0 {
			b.unlink(Buy, prevBuy, nextBuy)
		} else {
			prevBuy = buy
		}
		buy = nextBuy

		nextSell := so.Next()
		if sellLeft == 0 {
			b.unlink(Sell, prevSell, nextSell)
		} else {
			prevSell = sell
		}
		sell = nextSell
	}
	return out
}

// unlink splices out the node following prev (or the head when prev is
// Nil) by pointing past it to next.
func (b *OrderBook) unlink(side Side, prev, next memory.Handle) {
	if prev == memory.Nil {
		b.stack(side).Store(uint32(next))
		return
	}
	b.arena.Get(prev).next.Store(uint32(next))
}

// Head returns the handle of the most recently added resting order on side.
func (b *OrderBook) Head(side Side) memory.Handle {
	return memory.Handle(b.stack(side).Load())
}

// stack maps anything that is not Buy onto the sell stack.
func (b *OrderBook) stack(side Side) *atomic.Uint32 {
	if side == Buy {
		return &b.heads[Buy]
	}
	return &b.heads[Sell]
}

// Order dereferences a handle returned by AddOrder or found by Walk.
func (b *OrderBook) Order(h memory.Handle) *Order {
	return b.arena.Get(h)
}

// Walk visits side's stack from head to tail until fn returns false.
func (b *OrderBook) Walk(side Side, fn func(memory.Handle, *Order) bool) {
	for h := b.Head(side); h != memory.Nil; {
		o := b.arena.Get(h)
		if !fn(h, o) {
			return
		}
		h = o.Next()
	}
}

// Len counts the resting orders on side.
func (b *OrderBook) Len(side Side) int {
	n := 0
	b.Walk(side, func(memory.Handle, *Order) bool {
		n++
		return true
	})
	return n
}

func (b *OrderBook) Stats() Stats {
	return Stats{
		Added:      b.added.Load(),
		CASRetries: b.casRetries.Load(),
	}
}
