package orderbook

import (
	"sync/atomic"

	"stockbook/infra/memory"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Order is a resting order. Side, Ticker and Price are written once before
// the order is published; quantity and next are atomic because the
// matcher rewrites them while snapshot readers may be walking the stack.
type Order struct {
	Side   Side
	Ticker string
	Price  float64

	quantity atomic.Int64
	next     atomic.Uint32
}

func (o *Order) Quantity() int64 {
	return o.quantity.Load()
}

// Next returns the handle of the order below o in its side's stack.
func (o *Order) Next() memory.Handle {
	return memory.Handle(o.next.Load())
}

func (o *Order) init(side Side, ticker string, quantity int64, price float64) {
	o.Side = side
	o.Ticker = ticker
	o.Price = price
	o.quantity.Store(quantity)
	o.next.Store(uint32(memory.Nil))
}
