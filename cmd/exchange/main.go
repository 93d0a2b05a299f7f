// predx exchange — an order-matching exchange for binary prediction
// markets.
//
// Architecture:
//
//	main.go                — entry point: loads config, restores state, starts the API, waits for SIGINT/SIGTERM
//	engine/engine.go       — orchestrator: events, markets, orders, wallets, per-market serialization
//	engine/matcher.go      — continuous double auction: BUY buys YES, SELL buys NO at 1−price
//	engine/ledger.go       — wallet ledger with available/locked split and decimal arithmetic
//	engine/settlement.go   — terminal resolution: refunds, payouts, position clearing
//	auth/                  — bcrypt registry, JWT access tokens, rotating refresh tokens
//	store/store.go         — Pebble persistence: snapshots, txn archive, users, refresh tokens
//	api/                   — HTTP/JSON routes under /api/v1 plus the WebSocket market stream
package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"predx/internal/api"
	"predx/internal/auth"
	"predx/internal/config"
	"predx/internal/engine"
	"predx/internal/store"
)

func main() {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PREDX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Open persistence
	db, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err, "dir", cfg.Store.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	// Restore users
	registry := auth.NewRegistry(cfg.Auth.AdminEmails)
	users, err := db.Users()
	if err != nil {
		logger.Error("failed to load users", "error", err)
		os.Exit(1)
	}
	registry.Restore(users)

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, db)

	// Restore engine state
	eng := engine.New(registry, logger)
	snap, err := db.LoadSnapshot()
	switch {
	case err == nil:
		eng.Restore(snap)
		logger.Info("engine state restored",
			"events", len(snap.Events),
			"markets", len(snap.Markets),
			"orders", len(snap.Orders),
			"wallets", len(snap.Wallets),
		)
	case errors.Is(err, store.ErrNotFound):
		logger.Info("starting with empty engine state")
	default:
		logger.Error("failed to load snapshot", "error", err)
		os.Exit(1)
	}
	eng.SetArchiver(db)

	server := api.NewServer(*cfg, eng, registry, tokens, db.SaveUser, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Periodic snapshots so a crash loses at most one interval.
	stopSnapshots := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Store.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := db.SaveSnapshot(eng.Snapshot()); err != nil {
					logger.Error("periodic snapshot failed", "error", err)
				}
			case <-stopSnapshots:
				return
			}
		}
	}()

	logger.Info("exchange started",
		"addr", cfg.Server.Host,
		"port", cfg.Server.Port,
		"data_dir", cfg.Store.DataDir,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	close(stopSnapshots)
	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	if err := db.SaveSnapshot(eng.Snapshot()); err != nil {
		logger.Error("final snapshot failed", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
