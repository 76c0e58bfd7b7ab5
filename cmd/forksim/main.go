// forksim serves transaction simulations against forks of live chains.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/clydemeng/forksim/api"
	"github.com/clydemeng/forksim/chains"
	"github.com/clydemeng/forksim/core"
	"github.com/clydemeng/forksim/forkbridge"
	"github.com/clydemeng/forksim/identify"
	"github.com/clydemeng/forksim/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:   "forksim",
		Usage:  "stateful transaction simulation over forked chains",
		Flags:  append(append([]cli.Flag{}, configFlags...), logFlags...),
		Before: before,
		Action: run,
		After: func(*cli.Context) error {
			closeLogging()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:        "dumpconfig",
				Usage:       "Show configuration values",
				ArgsUsage:   "[<output file>]",
				Flags:       configFlags,
				Description: `The dumpconfig command shows configuration values.`,
				Action:      dumpConfig,
			},
		},
	}
	return app
}

func before(ctx *cli.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return setupLogging(ctx)
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Metrics {
		metrics.Enable()
	}
	overrides, err := cfg.endpoints()
	if err != nil {
		return err
	}

	engineCfg := forkbridge.Config{
		CacheSize:   cfg.CacheSize * 1024 * 1024,
		DialRetries: cfg.DialRetries,
	}
	registry := chains.NewRegistry(overrides)
	if cfg.Dev {
		engineCfg.Dev = devLedger()
		registry = chains.NewRegistry(map[uint64]string{devChainID: "dev"})
		log.Warn("Running against the local development ledger", "chain", devChainID, "accounts", len(devAccounts))
	}
	eng := forkbridge.New(engineCfg)

	names, err := identify.New(identify.Config{EtherscanKey: cfg.EtherscanKey})
	if err != nil {
		return err
	}
	defer names.Stop()

	store := session.NewStore(cfg.Session)
	defer store.Close()

	sim := core.NewSimulator(eng, registry, store, names, core.Config{ForkURL: cfg.ForkURL})
	if cfg.APIKey != "" {
		log.Info("Running with API key protection")
	}
	server := api.NewServer(sim, api.Config{
		APIKey:         cfg.APIKey,
		MaxRequestSize: cfg.MaxRequestSize * 1024,
		CorsOrigins:    cfg.CorsDomains,
		Metrics:        cfg.Metrics,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigctx)
	g.Go(func() error {
		store.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("Starting server", "port", cfg.Port, "engine", eng.Engine(), "chains", len(registry.ChainIDs()), "fork", cfg.ForkURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down", "sessions", store.Len())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
