// Package simulator feeds random orders into the book.
package simulator

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stockbook/domain/orderbook"
	"stockbook/infra/memory"
)

const (
	Tickers     = 1024
	MinQuantity = 1
	MaxQuantity = 100 // exclusive
	MinPrice    = 10.0
	MaxPrice    = 500.0 // exclusive
)

// Adder is satisfied by *service.OrderService.
type Adder interface {
	AddOrder(side orderbook.Side, ticker string, quantity int64, price float64) (memory.Handle, error)
}

type Order struct {
	Side     orderbook.Side
	Ticker   string
	Quantity int64
	Price    float64
}

type Options struct {
	Workers int
	// Rate is the total orders per second across workers; 0 disables pacing.
	Rate float64
	// Seed makes runs reproducible when non-zero.
	Seed   uint64
	Logger *zap.Logger
}

type Simulator struct {
	adder   Adder
	tickers []string
	workers int
	limiter *rate.Limiter
	seed    uint64
	log     *zap.Logger

	added atomic.Uint64
}

func New(adder Adder, opts Options) *Simulator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	tickers := make([]string, Tickers)
	for i := range tickers {
		tickers[i] = "STOCK" + strconv.Itoa(i)
	}
	return &Simulator{
		adder:   adder,
		tickers: tickers,
		workers: opts.Workers,
		limiter: rate.NewLimiter(limit, opts.Workers),
		seed:    opts.Seed,
		log:     opts.Logger.Named("simulator"),
	}
}

// Random draws one order: side uniform, quantity in [1,100), price in
// [10,500).
func (s *Simulator) Random(r *rand.Rand) Order {
	side := orderbook.Sell
	if r.IntN(2) == 0 {
		side = orderbook.Buy
	}
	return Order{
		Side:     side,
		Ticker:   s.tickers[r.IntN(len(s.tickers))],
		Quantity: MinQuantity + r.Int64N(MaxQuantity-MinQuantity),
		Price:    MinPrice + r.Float64()*(MaxPrice-MinPrice),
	}
}

// Run adds n orders spread over the workers and returns when they are all
// added or ctx is done. n <= 0 runs until ctx is done. A failed AddOrder
// stops every worker and is returned.
func (s *Simulator) Run(ctx context.Context, n int) error {
	s.log.Info("started", zap.Int("orders", n), zap.Int("workers", s.workers))

	var remaining atomic.Int64
	remaining.Store(int64(n))

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.workers; w++ {
		r := s.rng(uint64(w))
		g.Go(func() error {
			for {
				if n > 0 && remaining.Add(-1) < 0 {
					return nil
				}
				if err := s.limiter.Wait(gctx); err != nil {
					if n <= 0 {
						// Unbounded runs only stop through ctx.
						return nil
					}
					return err
				}
				o := s.Random(r)
				if _, err := s.adder.AddOrder(o.Side, o.Ticker, o.Quantity, o.Price); err != nil {
					return err
				}
				s.added.Add(1)
			}
		})
	}
	err := g.Wait()
	s.log.Info("stopped", zap.Uint64("added", s.added.Load()), zap.Error(err))
	return err
}

// Added reports how many orders this simulator has placed.
func (s *Simulator) Added() uint64 {
	return s.added.Load()
}

func (s *Simulator) rng(worker uint64) *rand.Rand {
	if s.seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(s.seed, worker))
}
