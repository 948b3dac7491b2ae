package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"stockbook/api/grpcserver"
	"stockbook/api/ws"
	"stockbook/config"
	"stockbook/domain/orderbook"
	"stockbook/infra/codec"
	"stockbook/infra/kafka"
	"stockbook/infra/memory"
	"stockbook/infra/metrics"
	"stockbook/infra/outbox"
	"stockbook/infra/sequence"
	"stockbook/internal/logging"
	"stockbook/jobs/broadcaster"
	"stockbook/jobs/simulator"
	"stockbook/service"
)

const shutdownTimeout = 5 * time.Second

type publisher interface {
	broadcaster.Publisher
	Close() error
}

func run(c *cli.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if c.Bool("simulate") {
		cfg.Simulator.Enabled = true
	}
	if c.Bool("in-memory") {
		cfg.Outbox.InMemory = true
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------- Memory & Domain ----------------

	arena := memory.NewArena[orderbook.Order](cfg.Arena.Capacity)
	book := orderbook.NewOrderBook(arena)
	seqGen := sequence.New(0)

	// ---------------- Outbox ----------------

	serializer, err := codec.ByName(cfg.Broadcast.Encoding)
	if err != nil {
		return err
	}

	var (
		ob  *outbox.Outbox
		pub publisher
	)
	if cfg.Broadcast.Enabled {
		ob, err = outbox.Open(outbox.Options{Dir: cfg.Outbox.Dir, InMemory: cfg.Outbox.InMemory})
		if err != nil {
			return err
		}
		defer func() {
			if err := ob.Close(); err != nil {
				log.Warn("outbox close", zap.Error(err))
			}
		}()

		last, err := ob.LastSeq()
		if err != nil {
			return err
		}
		seqGen.Reset(last)
		log.Info("outbox opened", zap.String("dir", cfg.Outbox.Dir), zap.Uint64("last_seq", last))

		pub, err = openPublisher(cfg.Broadcast)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
	}

	// ---------------- Service ----------------

	m := metrics.New()
	feed := ws.NewFeed(log)
	svc := service.NewOrderService(book, arena, seqGen, service.Options{
		Outbox:         ob,
		Serializer:     serializer,
		Notifier:       feed,
		Metrics:        m,
		Logger:         log,
		RetireCapacity: cfg.Retire.Capacity,
	})

	// ---------------- Servers ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(log.Named("grpc"))))
	grpcserver.RegisterOrderServiceServer(grpcSrv, grpcserver.NewServer(svc, log))

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/ws/executions", feed)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		return errors.Wrap(grpcSrv.Serve(lis), "grpc serve")
	})
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http serve")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		grpcSrv.GracefulStop()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	// ---------------- Background Jobs ----------------

	g.Go(func() error { return svc.RunMatchJob(ctx, cfg.Match.Interval) })
	g.Go(func() error { return svc.RunEpochJob(ctx, cfg.Epoch.Interval) })

	if ob != nil {
		bc := broadcaster.New(ob, pub, reportKey(serializer), cfg.Broadcast.Interval, log)
		g.Go(func() error {
			bc.Run(ctx)
			return nil
		})
	}

	if cfg.Simulator.Enabled {
		sim := simulator.New(svc, simulator.Options{
			Workers: cfg.Simulator.Workers,
			Rate:    cfg.Simulator.Rate,
			Logger:  log,
		})
		g.Go(func() error { return sim.Run(ctx, cfg.Simulator.Orders) })
	}

	err = g.Wait()
	// Reports from the last pass wait in the outbox for the next start.
	if _, merr := svc.Match(context.Background()); merr != nil {
		log.Warn("final match", zap.Error(merr))
	}
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

var openPublisher = newPublisher

func newPublisher(cfg config.Broadcast) (publisher, error) {
	switch cfg.Client {
	case "sarama":
		return kafka.NewSaramaProducer(cfg.Brokers, cfg.Topic)
	default:
		return kafka.NewProducer(cfg.Brokers, cfg.Topic), nil
	}
}

// reportKey keys broker messages by ticker so one instrument stays on
// one partition.
func reportKey(s codec.Serializer) broadcaster.KeyFunc {
	return func(payload []byte) []byte {
		r, err := s.Decode(payload)
		if err != nil {
			return nil
		}
		return r.Key()
	}
}
