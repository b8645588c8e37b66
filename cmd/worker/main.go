package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"production-ledger/internal/app"
	"production-ledger/internal/config"
	"production-ledger/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// worker runs the reorder monitor and the outbox dispatcher until signalled.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start worker", zap.Error(err))
	}
	defer rt.Close()

	logger.Info("worker started",
		zap.String("store", cfg.Store.Driver),
		zap.String("outbox", cfg.Outbox.Driver),
		zap.Duration("reorder_interval", cfg.Reorder.Interval),
		zap.Duration("outbox_poll", cfg.Outbox.PollInterval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Monitor.Run(gctx) })
	g.Go(func() error { return rt.Dispatcher.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		rt.Close()
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
