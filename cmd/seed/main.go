// seed is a one-shot tool that loads starter catalog and customer data
// into an empty database. Existing product codes are left untouched, so
// it is safe to re-run.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"log"

	"billing-ledger/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Seeding product catalog...")
	_, err = tx.Exec(ctx, `
		INSERT INTO products (code, name, unit_price, stock_quantity) VALUES
		('RICE-25', 'Rice bag 25kg', 1450.00, 40),
		('OIL-5', 'Cooking oil 5L', 980.00, 60),
		('SUGAR-1', 'Sugar 1kg', 95.00, 200),
		('TEA-500', 'Tea 500g', 310.00, 80),
		('FLOUR-10', 'Wheat flour 10kg', 620.00, 50)
		ON CONFLICT (code) DO NOTHING;
	`)
	if err != nil {
		log.Fatalf("Failed to seed products: %v", err)
	}

	log.Println("Seeding walk-in customer...")
	_, err = tx.Exec(ctx, `
		INSERT INTO customers (name, phone, address)
		SELECT 'Walk-in', '', ''
		WHERE NOT EXISTS (SELECT 1 FROM customers WHERE name = 'Walk-in');
	`)
	if err != nil {
		log.Fatalf("Failed to seed customer: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit seed: %v", err)
	}
	log.Println("Seed complete.")
}
