package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"billing-ledger/internal/adapters/cli"
	"billing-ledger/internal/app"
	"billing-ledger/internal/core"
	"billing-ledger/internal/db"
	"billing-ledger/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	zl := logger.New()

	ledger := core.NewLedgerStore(pool)
	calc := core.NewBalanceCalculator(pool)
	stock := core.NewStockService(pool)
	cash := core.NewCashRegisterService(pool)
	billing := core.NewBillingService(pool, ledger, calc, stock)
	allocator := core.NewCreditAllocator(pool, ledger, calc)
	settlement := core.NewSettlementProcessor(pool, ledger, calc, stock, cash)
	reconciler := core.NewReconciler(pool, reconcileRate(), zl)

	svc := app.NewAppService(pool, ledger, billing, allocator, settlement, reconciler, stock, cash)

	if len(os.Args) < 2 {
		log.Fatal("Usage: app <command> [args]\nCommands: customer, statement, invoice, pay, credit, allocate, return, cancel-return, adjust, reconcile, day-total")
	}
	cli.Run(ctx, svc, os.Args[1:])
}

func reconcileRate() float64 {
	raw := os.Getenv("RECONCILE_RATE")
	if raw == "" {
		return 10
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate <= 0 {
		log.Fatalf("invalid RECONCILE_RATE %q", raw)
	}
	return rate
}
