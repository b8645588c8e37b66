package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"production-ledger/internal/adapters/cli"
	"production-ledger/internal/app"
	"production-ledger/internal/config"
	"production-ledger/internal/logging"
)

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

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: app <command> [args...]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer rt.Close()

	actor := os.Getenv("USER")
	if actor == "" {
		actor = "cli"
	}
	session := cli.Session{OrgID: cfg.Org.Default, Actor: actor, In: os.Stdin, Out: os.Stdout}
	if err := cli.Run(ctx, rt.Service, session, os.Args[1:]); err != nil {
		rt.Close()
		log.Fatalf("%v", err)
	}
}
