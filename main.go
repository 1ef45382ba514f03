package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackerapp/stacker/config"
	"github.com/stackerapp/stacker/internal/runner"
	"github.com/stackerapp/stacker/internal/services/pricer"
	"github.com/stackerapp/stacker/internal/services/provider"
	"github.com/stackerapp/stacker/internal/services/scheduler"
	"github.com/stackerapp/stacker/internal/setup"
	"github.com/stackerapp/stacker/internal/storage/journal"
	"github.com/stackerapp/stacker/internal/storage/rules"
	"github.com/stackerapp/stacker/internal/web"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Get()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	store, err := rules.NewFileStore(cfg.StoreDir, cfg.Namespace)
	if err != nil {
		logger.Fatal("failed to open rule store", zap.Error(err))
	}

	jnl, err := journal.New(cfg.JournalDir)
	if err != nil {
		logger.Fatal("failed to open purchase journal", zap.Error(err))
	}
	defer jnl.Close()

	sched, err := scheduler.New(store, jnl, logger)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}

	if cfg.AddRule {
		if err := setup.RunTUI(sched); err != nil {
			logger.Fatal("rule wizard failed", zap.Error(err))
		}
	}

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build purchase providers", zap.Error(err))
	}

	run, err := runner.New(sched, providers, cfg.PollInterval, logger)
	if err != nil {
		logger.Fatal("failed to create runner", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return run.Run(ctx)
	})

	if cfg.WebAddr != "" {
		srv := web.NewServer(cfg.WebAddr, sched, jnl)
		g.Go(func() error {
			logger.Info("status server listening", zap.String("addr", cfg.WebAddr))
			return srv.Start(ctx)
		})
	}

	logger.Info("stacker started",
		zap.String("provider", cfg.Provider),
		zap.Int("rules", len(sched.Rules())),
		zap.Duration("poll_interval", cfg.PollInterval))

	if err := g.Wait(); err != nil && !isShutdown(err) {
		logger.Error(err.Error())
	}
	logger.Info("stacker stopped")
}

func buildProviders(cfg config.Config, logger *zap.Logger) (map[string]provider.Purchaser, error) {
	providers := make(map[string]provider.Purchaser)

	switch cfg.Provider {
	case "binance":
		apikey := os.Getenv("BINANCE_API_KEY")
		secretkey := os.Getenv("BINANCE_API_SECRET")
		if apikey == "" || secretkey == "" {
			logger.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET envs are not set")
		}
		client := binance.NewClient(apikey, secretkey)
		providers["binance"] = provider.NewBinanceProvider(client, pricer.NewBinancePricer(client))
	case "simulate":
		sim, err := provider.NewSimulateProvider(buildPricer(cfg.PriceSource), logger)
		if err != nil {
			return nil, err
		}
		providers["simulate"] = sim
	}

	return providers, nil
}

func buildPricer(source string) pricer.Pricer {
	if source == "bybit" {
		return pricer.NewBybitPricer(bybit.NewClient())
	}
	return pricer.NewBinancePricer(binance.NewClient("", ""))
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
