package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stockbook/domain/execution"
	"stockbook/domain/orderbook"
	"stockbook/infra/codec"
	"stockbook/infra/memory"
	"stockbook/infra/metrics"
	"stockbook/infra/outbox"
	"stockbook/infra/sequence"
	"stockbook/snapshot"
)

// Notifier receives every report after it has been sequenced.
type Notifier interface {
	Notify(execution.Report)
}

// RestingOrder is a read-only copy of a book entry.
type RestingOrder struct {
	Handle   memory.Handle
	Side     orderbook.Side
	Ticker   string
	Quantity int64
	Price    float64
}

type Options struct {
	// Outbox, when set, receives every report encoded with Serializer.
	Outbox     *outbox.Outbox
	Serializer codec.Serializer
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	// RetireCapacity sizes the retire ring; it must be a power of two.
	RetireCapacity uint64
}

const defaultRetireCapacity = 1 << 16

/*
OrderService is the ONLY write entry point into the book.
*/
type OrderService struct {
	book   *orderbook.OrderBook
	arena  *memory.Arena[orderbook.Order]
	clock  *memory.Clock
	ring   *memory.RetireRing[memory.Retired[memory.Handle]]
	reader *snapshot.Reader
	seqGen *sequence.Sequencer

	outbox     *outbox.Outbox
	serializer codec.Serializer
	notifier   Notifier
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time

	// gate: AddOrder holds it shared, a matching pass exclusively.
	gate sync.RWMutex
	// matchMu serializes Match calls end to end and makes Match the
	// single producer of ring.
	matchMu sync.Mutex
	// snapMu allows one snapshot reader at a time.
	snapMu sync.Mutex
	// reclaimMu makes AdvanceEpoch the single consumer of ring.
	reclaimMu sync.Mutex
}

func NewOrderService(
	book *orderbook.OrderBook,
	arena *memory.Arena[orderbook.Order],
	seqGen *sequence.Sequencer,
	opts Options,
) *OrderService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Serializer == nil {
		opts.Serializer = codec.JSONSerializer{}
	}
	if opts.RetireCapacity == 0 {
		opts.RetireCapacity = defaultRetireCapacity
	}

	clock := &memory.Clock{}
	s := &OrderService{
		book:       book,
		arena:      arena,
		clock:      clock,
		ring:       memory.NewRetireRing[memory.Retired[memory.Handle]](opts.RetireCapacity),
		reader:     snapshot.NewReader(clock),
		seqGen:     seqGen,
		outbox:     opts.Outbox,
		serializer: opts.Serializer,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		log:        opts.Logger.Named("service"),
		now:        time.Now,
	}
	if s.metrics != nil {
		s.metrics.Gauge("arena_live_slots", "Order slots allocated and not yet reclaimed.",
			func() float64 { return float64(arena.Live()) })
		s.metrics.Gauge("retire_backlog", "Filled orders waiting for reclamation.",
			func() float64 { return float64(s.ring.Len()) })
		s.metrics.Counter("cas_retries_total", "Lost compare-and-swap attempts while adding orders.",
			func() float64 { return float64(book.Stats().CASRetries) })
	}
	return s
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// AddOrder places an order on its side's stack. It may be called from
// any number of goroutines and only waits while a matching pass runs.
// It returns memory.ErrArenaExhausted when every order slot is in use.
func (s *OrderService) AddOrder(side orderbook.Side, ticker string, quantity int64, price float64) (memory.Handle, error) {
	s.gate.RLock()
	h, err := s.book.TryAddOrder(side, ticker, quantity, price)
	s.gate.RUnlock()

	if err != nil {
		if s.metrics != nil {
			s.metrics.OrdersRejected.Inc()
		}
		return memory.Nil, err
	}
	if s.metrics != nil {
		s.metrics.OrdersAdded.WithLabelValues(side.String()).Inc()
	}
	return h, nil
}

// Match runs one matching pass and returns its reports in match order.
// Reports are returned even when storing them in the outbox fails.
func (s *OrderService) Match(ctx context.Context) ([]execution.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.matchMu.Lock()
	defer s.matchMu.Unlock()

	s.gate.Lock()
	start := time.Now()
	execs := s.book.MatchOrders()
	elapsed := time.Since(start)
	s.gate.Unlock()

	for _, e := range execs {
		if e.BuyFilled {
			s.retire(e.Buy)
		}
		if e.SellFilled {
			s.retire(e.Sell)
		}
	}
	if s.metrics != nil {
		s.metrics.MatchDuration.Observe(elapsed.Seconds())
	}
	if len(execs) == 0 {
		return nil, nil
	}

	at := s.now()
	reports := make([]execution.Report, len(execs))
	var qty int64
	for i, e := range execs {
		reports[i] = execution.NewReport(s.seqGen.Next(), e, at)
		qty += e.Quantity
	}

	if s.metrics != nil {
		s.metrics.Executions.Add(float64(len(reports)))
		s.metrics.ExecutedQuantity.Add(float64(qty))
	}

	err := s.store(reports)
	if err != nil {
		if s.metrics != nil {
			s.metrics.OutboxErrors.Inc()
		}
		s.log.Error("outbox append failed",
			zap.Uint64("first_seq", reports[0].Seq),
			zap.Int("reports", len(reports)),
			zap.Error(err),
		)
	}

	if s.notifier != nil {
		for _, r := range reports {
			s.notifier.Notify(r)
		}
	}

	s.log.Debug("matched",
		zap.Int("executions", len(reports)),
		zap.Int64("quantity", qty),
		zap.Duration("elapsed", elapsed),
	)
	return reports, err
}

func (s *OrderService) store(reports []execution.Report) error {
	if s.outbox == nil {
		return nil
	}
	entries := make([]outbox.Entry, 0, len(reports))
	for _, r := range reports {
		payload, err := s.serializer.Encode(r)
		if err != nil {
			return errors.Wrapf(err, "encode seq %d", r.Seq)
		}
		entries = append(entries, outbox.Entry{Seq: r.Seq, Payload: payload})
	}
	return s.outbox.Append(entries...)
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Snapshot returns every resting order with a positive quantity, buys
// first, each side from most to least recently added. It does not take
// the gate.
func (s *OrderService) Snapshot() []RestingOrder {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	s.reader.Begin()
	defer s.reader.End()

	out := make([]RestingOrder, 0, 1024)
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		s.book.Walk(side, func(h memory.Handle, o *orderbook.Order) bool {
			if q := o.Quantity(); q > 0 {
				out = append(out, RestingOrder{
					Handle:   h,
					Side:     o.Side,
					Ticker:   o.Ticker,
					Quantity: q,
					Price:    o.Price,
				})
			}
			return true
		})
	}
	return out
}

// LastSeq returns the sequence of the most recent report.
func (s *OrderService) LastSeq() uint64 {
	return s.seqGen.Current()
}

//
// ──────────────────────────────────────────────────────────
// Reclamation
// ──────────────────────────────────────────────────────────
//

// AdvanceEpoch returns retired order slots that no snapshot can still
// reach to the arena. It returns how many were reclaimed.
func (s *OrderService) AdvanceEpoch() int {
	s.reclaimMu.Lock()
	defer s.reclaimMu.Unlock()

	n := memory.AdvanceEpochAndReclaim(s.clock, s.ring, s.arena.Free, s.reader.Epoch())
	if s.metrics != nil && n > 0 {
		s.metrics.Reclaimed.Add(float64(n))
	}
	return n
}

func (s *OrderService) retire(h memory.Handle) {
	if memory.Retire(s.clock, s.ring, h) {
		return
	}
	s.AdvanceEpoch()
	if memory.Retire(s.clock, s.ring, h) {
		return
	}
	// A long snapshot is holding the ring. The slot is never reused.
	s.log.Warn("retire ring full, leaking order slot", zap.Uint32("handle", uint32(h)))
}
