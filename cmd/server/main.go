package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	configPath string
	logLevel   string
)

func main() {
	app := cli.NewApp()
	app.Name = "stockbook"
	app.Usage = "lock-free order book with gRPC, websocket and Kafka outputs"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to a YAML config file",
			EnvVars:     []string{"STOCKBOOK_CONFIG"},
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "override log.level (debug, info, warn, error)",
			Destination: &logLevel,
		},
		&cli.BoolFlag{
			Name:  "simulate",
			Usage: "run the random order generator in the background",
		},
		&cli.BoolFlag{
			Name:  "in-memory",
			Usage: "keep the outbox in memory",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
