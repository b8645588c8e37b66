package main

import (
	"context"
	"flag"
	"log"

	"production-ledger/internal/config"
	"production-ledger/internal/db"
	"production-ledger/internal/logging"

	"go.uber.org/zap"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding NNN_description.sql files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, *dir, logger)
	if err != nil {
		logger.Fatal("migration failed", zap.Strings("applied", applied), zap.Error(err))
	}
	logger.Info("all migrations processed", zap.Int("applied", len(applied)))
}
