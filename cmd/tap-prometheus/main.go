package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/meshcloud/tap-prometheus/pkg/checkpoint/badger"
	"github.com/meshcloud/tap-prometheus/pkg/config"
	"github.com/meshcloud/tap-prometheus/pkg/emit"
	"github.com/meshcloud/tap-prometheus/pkg/log"
	"github.com/meshcloud/tap-prometheus/pkg/source"
	"github.com/meshcloud/tap-prometheus/pkg/tap"
)

var version = "dev"

func main() {
	app := App()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tap-prometheus: %v\n", err)
		os.Exit(1)
	}
}

// App builds the CLI application.
func App() *cli.App {
	app := cli.NewApp()

	app.Name = "tap-prometheus"
	app.Version = version
	app.Usage = "extract and aggregate Prometheus time series as a Singer stream"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:     "config,c",
			Usage:    "path to the configuration file",
			Required: true,
		},
		cli.StringFlag{
			Name:  "data,d",
			Usage: "directory for the durable checkpoint store",
			Value: "./tap-prometheus-data",
		},
		cli.BoolFlag{
			Name:  "discover",
			Usage: "print the stream catalog and exit without fetching data",
		},
		cli.StringFlag{
			Name:  "log-level,l",
			Usage: "set the logging level [debug, info, warn, error]",
		},
	}
	app.Action = run

	return app
}

func run(c *cli.Context) error {
	if level := c.String("log-level"); level != "" {
		log.SetLevel(level)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if c.Bool("discover") {
		return tap.Discover(os.Stdout, cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srcCfg := source.Config{Endpoint: cfg.Endpoint}
	if cfg.Auth != nil {
		srcCfg.Username = cfg.Auth.Username
		srcCfg.Password = cfg.Auth.Password
	}
	src, err := source.NewClient(srcCfg)
	if err != nil {
		return err
	}

	store, err := badger.New(badger.Config{Path: c.String("data")})
	if err != nil {
		return err
	}
	defer store.Close()

	runner := tap.New(cfg, src, store, emit.New(os.Stdout))
	return runner.Run(ctx)
}
