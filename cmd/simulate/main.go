// Command simulate fills a fresh book with random orders from concurrent
// workers, runs one matching pass and prints every execution.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"stockbook/domain/orderbook"
	"stockbook/infra/memory"
	"stockbook/infra/sequence"
	"stockbook/internal/logging"
	"stockbook/jobs/simulator"
	"stockbook/service"
)

func main() {
	app := cli.NewApp()
	app.Name = "simulate"
	app.Usage = "add random orders concurrently and match them once"
	app.Flags = []cli.Flag{
		&cli.IntFlag{Name: "orders", Aliases: []string{"n"}, Value: 1000, Usage: "orders to add"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Value: 4, Usage: "concurrent adders"},
		&cli.Uint64Flag{Name: "seed", Usage: "random seed, 0 picks one"},
		&cli.StringFlag{Name: "log-level", Value: "warn"},
	}
	app.Action = simulate

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func simulate(c *cli.Context) error {
	log, err := logging.New(c.String("log-level"), true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	n := c.Int("orders")
	if n <= 0 {
		return cli.Exit("orders must be positive", 2)
	}

	arena := memory.NewArena[orderbook.Order](uint64(n))
	book := orderbook.NewOrderBook(arena)
	svc := service.NewOrderService(book, arena, sequence.New(0), service.Options{Logger: log})

	sim := simulator.New(svc, simulator.Options{
		Workers: c.Int("workers"),
		Seed:    c.Uint64("seed"),
		Logger:  log,
	})
	if err := sim.Run(c.Context, n); err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, "\nMatching orders...")
	reports, err := svc.Match(context.WithoutCancel(c.Context))
	if err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Fprintf(c.App.Writer, "Executed: %d of %s at $%.2f\n", r.Quantity, r.Ticker, r.Price)
	}

	log.Info("done",
		zap.Int("orders", n),
		zap.Int("executions", len(reports)),
		zap.Int("resting", len(svc.Snapshot())),
		zap.Uint64("cas_retries", book.Stats().CASRetries),
	)
	return nil
}
