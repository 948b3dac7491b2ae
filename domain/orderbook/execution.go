package orderbook

import "stockbook/infra/memory"

// Execution is the output of one successful match. Price is always the
// resting sell order's price and Ticker is the buy order's ticker.
//
// Buy and Sell identify the matched orders at the time of the pass.
// Handles of filled orders are recycled once retired, so they must not
// be dereferenced after the caller has retired them.
type Execution struct {
	Quantity int64
	Ticker   string
	Price    float64

	Buy        memory.Handle
	Sell       memory.Handle
	BuyFilled  bool
	SellFilled bool
}
