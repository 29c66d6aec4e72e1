package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"civicmatch/internal/app"
	"civicmatch/internal/config"
	"civicmatch/internal/observability"
	"civicmatch/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	cfg, err := config.Load(os.Getenv("CM_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Debug)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	default:
		usage()
		return
	}
	if err != nil {
		logger.Error(cmd+" failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}
	defer a.Close()
	return a.Serve(ctx)
}

func runMigrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := store.Migrate(ctx, st.DB()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

func usage() {
	fmt.Println("Usage: civicmatchd <serve|migrate>")
}
