// reconciler runs the balance reconciliation pass on an interval. It heals
// cached customer balances from the ledger and records every correction.
// Safe to run alongside live traffic; each customer is checked in its own
// short transaction and the pass is rate limited.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"billing-ledger/internal/core"
	"billing-ledger/internal/db"
	"billing-ledger/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	zl := logger.New().With().Str("component", "reconciler").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx)
	if err != nil {
		zl.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()

	interval := durationEnv("RECONCILE_INTERVAL", 15*time.Minute)
	rate := floatEnv("RECONCILE_RATE", 10)
	reconciler := core.NewReconciler(pool, rate, zl)

	zl.Info().Dur("interval", interval).Float64("rate", rate).Msg("reconciler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := reconciler.ReconcileAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				zl.Info().Msg("reconciler stopping")
				return
			}
			zl.Error().Err(err).Msg("reconciliation pass failed")
		} else {
			zl.Info().Int("checked", summary.Checked).Int("corrected", summary.Corrected).Msg("pass done")
		}

		select {
		case <-ctx.Done():
			zl.Info().Msg("reconciler stopping")
			return
		case <-ticker.C:
		}
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func floatEnv(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}
