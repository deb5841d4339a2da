// verify-db audits a live database against the invariants the services
// maintain: the ledger running-balance chain, the invoice balance formula,
// the cached customer balances and non-negative stock. It only reads.
//
// Usage: go run ./cmd/verify-db
package main

import (
	"context"
	"log"
	"os"

	"billing-ledger/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}
	defer pool.Close()

	failures := 0
	failures += checkLedgerChain(ctx, pool)
	failures += checkInvoiceBalances(ctx, pool)
	failures += checkCachedBalances(ctx, pool)
	failures += checkStock(ctx, pool)

	if failures > 0 {
		log.Fatalf("[DONE] %d invariant violation(s) found", failures)
	}
	log.Println("[DONE] all invariants hold")
	os.Exit(0)
}

// checkLedgerChain verifies balance_after arithmetic and that each entry
// starts where the previous one for the same customer ended.
func checkLedgerChain(ctx context.Context, pool *pgxpool.Pool) int {
	rows, err := pool.Query(ctx, `
		SELECT id, customer_id, entry_type, amount::text, balance_before::text, balance_after::text,
		       LAG(balance_after) OVER (PARTITION BY customer_id ORDER BY id)::text
		FROM ledger_entries
		ORDER BY customer_id, id
	`)
	if err != nil {
		log.Fatalf("[LEDGER] query failed: %v", err)
	}
	defer rows.Close()

	failures := 0
	for rows.Next() {
		var id, customerID int64
		var entryType string
		var amount, before, after string
		var prevAfter *string
		if err := rows.Scan(&id, &customerID, &entryType, &amount, &before, &after, &prevAfter); err != nil {
			log.Fatalf("[LEDGER] scan failed: %v", err)
		}
		if prevAfter != nil && *prevAfter != before {
			log.Printf("[FAIL] ledger entry %d: balance_before %s does not continue previous balance_after %s", id, before, *prevAfter)
			failures++
		}
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("[LEDGER] iteration failed: %v", err)
	}

	var badArithmetic int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE balance_after <> balance_before + CASE WHEN entry_type = 'debit' THEN amount ELSE -amount END
	`).Scan(&badArithmetic)
	if err != nil {
		log.Fatalf("[LEDGER] arithmetic check failed: %v", err)
	}
	if badArithmetic > 0 {
		log.Printf("[FAIL] %d ledger entries with broken balance arithmetic", badArithmetic)
		failures += badArithmetic
	}

	if failures == 0 {
		log.Println("[OK] ledger running-balance chain")
	}
	return failures
}

// checkInvoiceBalances recomputes remaining_balance and status for every
// invoice from payments and accepted returns.
func checkInvoiceBalances(ctx context.Context, pool *pgxpool.Pool) int {
	rows, err := pool.Query(ctx, `
		SELECT i.id, i.bill_number, i.remaining_balance::text,
		       GREATEST(0, ROUND(i.grand_total - COALESCE(p.total, 0) - COALESCE(r.total, 0), 2))::text AS expected
		FROM invoices i
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS total FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id
		LEFT JOIN (
			SELECT r.original_invoice_id, SUM(ri.total_price) AS total
			FROM return_items ri JOIN returns r ON r.id = ri.return_id
			WHERE r.status = 'accepted'
			GROUP BY r.original_invoice_id
		) r ON r.original_invoice_id = i.id
		WHERE i.remaining_balance <> GREATEST(0, ROUND(i.grand_total - COALESCE(p.total, 0) - COALESCE(r.total, 0), 2))
	`)
	if err != nil {
		log.Fatalf("[INVOICE] query failed: %v", err)
	}
	defer rows.Close()

	failures := 0
	for rows.Next() {
		var id int64
		var billNumber, stored, expected string
		if err := rows.Scan(&id, &billNumber, &stored, &expected); err != nil {
			log.Fatalf("[INVOICE] scan failed: %v", err)
		}
		log.Printf("[FAIL] invoice %s: stored remaining %s, formula gives %s", billNumber, stored, expected)
		failures++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("[INVOICE] iteration failed: %v", err)
	}

	var badStatus int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM invoices
		WHERE (remaining_balance <= 0.01 AND status <> 'paid')
		   OR (remaining_balance > 0.01 AND status = 'paid')
	`).Scan(&badStatus)
	if err != nil {
		log.Fatalf("[INVOICE] status check failed: %v", err)
	}
	if badStatus > 0 {
		log.Printf("[FAIL] %d invoices with status inconsistent with remaining balance", badStatus)
		failures += badStatus
	}

	if failures == 0 {
		log.Println("[OK] invoice balance formula")
	}
	return failures
}

// checkCachedBalances compares the cached customer balance with the signed
// ledger sum, allowing the reconciler's 0.01 tolerance. Drift is reported
// but does not fail the audit; the reconciler heals it.
func checkCachedBalances(ctx context.Context, pool *pgxpool.Pool) int {
	rows, err := pool.Query(ctx, `
		SELECT c.id, c.name, c.balance::text,
		       COALESCE(SUM(CASE WHEN le.entry_type = 'debit' THEN le.amount ELSE -le.amount END), 0)::text AS truth
		FROM customers c
		LEFT JOIN ledger_entries le ON le.customer_id = c.id
		GROUP BY c.id, c.name, c.balance
		HAVING ABS(c.balance - COALESCE(SUM(CASE WHEN le.entry_type = 'debit' THEN le.amount ELSE -le.amount END), 0)) > 0.01
	`)
	if err != nil {
		log.Fatalf("[CACHE] query failed: %v", err)
	}
	defer rows.Close()

	drifted := 0
	for rows.Next() {
		var id int64
		var name, cached, truth string
		if err := rows.Scan(&id, &name, &cached, &truth); err != nil {
			log.Fatalf("[CACHE] scan failed: %v", err)
		}
		log.Printf("[WARN] customer %d (%s): cached %s, ledger %s. Run the reconciler.", id, name, cached, truth)
		drifted++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("[CACHE] iteration failed: %v", err)
	}

	if drifted == 0 {
		log.Println("[OK] cached balances match the ledger")
	}
	return 0
}

func checkStock(ctx context.Context, pool *pgxpool.Pool) int {
	var negative int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM products WHERE stock_quantity < 0").Scan(&negative); err != nil {
		log.Fatalf("[STOCK] query failed: %v", err)
	}
	if negative > 0 {
		log.Printf("[FAIL] %d products with negative stock", negative)
		return negative
	}
	log.Println("[OK] stock quantities non-negative")
	return 0
}
