package orderbook

import (
	"testing"

	"pgregory.net/rapid"

	"stockbook/infra/memory"
)

type modelOrder struct {
	h     memory.Handle
	price float64
	qty   int64
}

// modelMatch replays the matching pass over plain slices ordered head first.
func modelMatch(buys, sells []*modelOrder) (execs []Execution, restBuys, restSells []*modelOrder) {
	i, j := 0, 0
	for i < len(buys) && j < len(sells) {
		b, s := buys[i], sells[j]
		if b.price < s.price {
			restBuys = append(restBuys, b)
			i++
			continue
		}
		q := min(b.qty, s.qty)
		b.qty -= q
		s.qty -= q
		execs = append(execs, Execution{Quantity: q, Price: s.price, Buy: b.h, Sell: s.h})
		if b.qty != 0 {
			restBuys = append(restBuys, b)
		}
		if s.qty != 0 {
			restSells = append(restSells, s)
		}
		i++
		j++
	}
	restBuys = append(restBuys, buys[i:]...)
	restSells = append(restSells, sells[j:]...)
	return execs, restBuys, restSells
}

func TestPropertyMatchAgreesWithModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook(memory.NewArena[Order](1 << 12))
		n := rapid.IntRange(0, 60).Draw(t, "orders")

		var buys, sells []*modelOrder
		initial := make(map[memory.Handle]int64, n)
		for k := 0; k < n; k++ {
			side := Sell
			if rapid.Bool().Draw(t, "buy") {
				side = Buy
			}
			qty := rapid.Int64Range(1, 99).Draw(t, "qty")
			price := float64(rapid.IntRange(10, 20).Draw(t, "price"))

			h := book.AddOrder(side, "STOCK1", qty, price)
			initial[h] = qty
			m := &modelOrder{h: h, price: price, qty: qty}
			if side == Buy {
				buys = append([]*modelOrder{m}, buys...)
			} else {
				sells = append([]*modelOrder{m}, sells...)
			}
		}

		execs := book.MatchOrders()
		want, restBuys, restSells := modelMatch(buys, sells)

		if len(execs) != len(want) {
			t.Fatalf("got %d executions, model has %d", len(execs), len(want))
		}
		filled := make(map[memory.Handle]int64)
		for i, e := range execs {
			w := want[i]
			if e.Quantity != w.Quantity || e.Price != w.Price || e.Buy != w.Buy || e.Sell != w.Sell {
				t.Fatalf("execution %d: got %+v, want %+v", i, e, w)
			}
			if e.Quantity <= 0 {
				t.Fatalf("execution %d has non-positive quantity %d", i, e.Quantity)
			}
			filled[e.Buy] += e.Quantity
			filled[e.Sell] += e.Quantity
		}

		// Quantity conservation.
		for h, q0 := range initial {
			left := book.Order(h).Quantity()
			if left < 0 {
				t.Fatalf("order %d went negative: %d", h, left)
			}
			if q0-left != filled[h] {
				t.Fatalf("order %d: initial %d, left %d, executed %d", h, q0, left, filled[h])
			}
		}

		checkSide(t, book, Buy, restBuys)
		checkSide(t, book, Sell, restSells)
	})
}

func checkSide(t *rapid.T, book *OrderBook, side Side, want []*modelOrder) {
	var got []memory.Handle
	book.Walk(side, func(h memory.Handle, o *Order) bool {
		if o.Quantity() <= 0 {
			t.Fatalf("%s order %d still linked with quantity %d", side, h, o.Quantity())
		}
		got = append(got, h)
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("%s side has %d orders, model has %d", side, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i].h {
			t.Fatalf("%s side position %d: got %d, want %d", side, i, got[i], want[i].h)
		}
	}
}
