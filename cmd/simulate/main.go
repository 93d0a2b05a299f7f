// predx simulate — a load generator that drives a running exchange through
// the public API: it provisions an admin, an event, and a market, registers
// a crowd of traders, and has them trade randomly around a drifting fair
// price until the market is settled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predx/pkg/client"
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080/api/v1", "exchange API base URL")
		traders    = flag.Int("traders", 8, "number of trading accounts")
		duration   = flag.Duration("duration", 30*time.Second, "how long to trade")
		adminEmail = flag.String("admin", "admin@example.com", "admin account email")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx, cancel := context.WithTimeout(context.Background(), *duration+time.Minute)
	defer cancel()

	if err := run(ctx, logger, *baseURL, *adminEmail, *traders, *duration); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, baseURL, adminEmail string, traders int, duration time.Duration) error {
	admin := client.New(baseURL)
	if _, err := admin.Register(ctx, adminEmail, "simulation-admin-pass", "Simulator Admin"); err != nil {
		// The admin may exist from a previous run; login decides.
		logger.Info("admin register skipped", "reason", err)
	}
	if err := admin.Login(ctx, adminEmail, "simulation-admin-pass"); err != nil {
		return fmt.Errorf("admin login: %w", err)
	}

	ev, err := admin.CreateEvent(ctx, "Simulated event "+time.Now().Format(time.RFC3339), "load test")
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	market, err := admin.CreateMarket(ctx, ev.ID, "Simulated outcome")
	if err != nil {
		return fmt.Errorf("create market: %w", err)
	}
	logger.Info("market created", "market_id", market.ID)

	var wg sync.WaitGroup
	for i := 0; i < traders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := trade(ctx, logger, baseURL, market.ID, n, duration); err != nil {
				logger.Error("trader stopped", "trader", n, "error", err)
			}
		}(i)
	}
	wg.Wait()

	outcome := "YES"
	if rand.Intn(2) == 0 {
		outcome = "NO"
	}
	settled, err := admin.Settle(ctx, market.ID, outcome)
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	logger.Info("market settled", "market_id", settled.ID, "outcome", outcome, "volume", settled.Volume)
	return nil
}

// trade registers one account and places random orders around a drifting
// fair price until the deadline passes.
func trade(ctx context.Context, logger *slog.Logger, baseURL, marketID string, n int, duration time.Duration) error {
	c := client.New(baseURL)
	email := fmt.Sprintf("trader%d+%d@example.com", n, time.Now().UnixNano())
	u, err := c.Register(ctx, email, "simulation-pass", fmt.Sprintf("Trader %d", n))
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := c.Login(ctx, email, "simulation-pass"); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := c.Deposit(ctx, u.ID, decimal.NewFromInt(10_000)); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(n)))
	fair := 0.50
	deadline := time.Now().Add(duration)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50+rng.Intn(200)) * time.Millisecond):
		}

		// Random walk of the fair price, clamped well inside (0,1).
		fair += (rng.Float64() - 0.5) * 0.02
		if fair < 0.05 {
			fair = 0.05
		}
		if fair > 0.95 {
			fair = 0.95
		}

		side := "BUY"
		offset := -rng.Float64() * 0.03
		if rng.Intn(2) == 0 {
			side = "SELL"
			offset = rng.Float64() * 0.03
		}
		price := decimal.NewFromFloat(fair + offset).Round(4)
		quantity := int64(1 + rng.Intn(50))

		order, err := c.PlaceOrder(ctx, marketID, side, price, quantity)
		if err != nil {
			// Rejections (rate limit, funds) are part of the load profile.
			continue
		}

		// Occasionally cancel the resting remainder.
		if rng.Intn(5) == 0 && order.State != "FILLED" {
			_, _ = c.CancelOrder(ctx, order.ID)
		}
	}

	w, err := c.Balance(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("final balance: %w", err)
	}
	logger.Info("trader done", "trader", n, "available", w.Available, "locked", w.Locked)
	return nil
}
