package core_test

import (
	"context"
	"testing"
)

func TestReconciler_HealsDriftedCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 10) // ledger balance 1000.00
	env.payInFull(t, invoice)           // back to 0

	// Simulate a crashed cache update.
	if _, err := env.pool.Exec(ctx,
		"UPDATE customers SET balance = 725.00 WHERE id = $1", env.customerID,
	); err != nil {
		t.Fatalf("Failed to break cache: %v", err)
	}

	correction, err := env.reconciler.Reconcile(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if correction == nil {
		t.Fatal("Expected a correction, got none")
	}
	assertDecimal(t, correction.CachedBalance, "725.00", "recorded cached balance")
	assertDecimal(t, correction.LedgerBalance, "0", "recorded ledger balance")
	assertDecimal(t, correction.Delta, "-725.00", "recorded delta")

	customer, err := env.billing.GetCustomer(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to fetch customer: %v", err)
	}
	assertDecimal(t, customer.Balance, "0", "cache after correction")
	if customer.BalanceSyncedAt == nil {
		t.Error("Expected balance_synced_at to be set")
	}

	// Running again on a consistent database changes nothing.
	second, err := env.reconciler.Reconcile(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Second reconcile failed: %v", err)
	}
	if second != nil {
		t.Errorf("Expected no correction on second pass, got delta %s", second.Delta)
	}

	var corrections int
	if err := env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM balance_corrections").Scan(&corrections); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if corrections != 1 {
		t.Errorf("Expected exactly 1 correction record, got %d", corrections)
	}
}

func TestReconciler_ToleratesCentResidue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createInvoice(t, 1) // ledger balance 100.00
	if _, err := env.pool.Exec(ctx,
		"UPDATE customers SET balance = 100.01 WHERE id = $1", env.customerID,
	); err != nil {
		t.Fatalf("Failed to nudge cache: %v", err)
	}

	correction, err := env.reconciler.Reconcile(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if correction != nil {
		t.Errorf("Expected cent-level residue to be tolerated, got correction with delta %s", correction.Delta)
	}
}

func TestReconciler_ReconcileAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A second customer with drift; the seeded one stays consistent.
	var otherID int64
	if err := env.pool.QueryRow(ctx,
		"INSERT INTO customers (name, balance) VALUES ('Drifted', 50.00) RETURNING id",
	).Scan(&otherID); err != nil {
		t.Fatalf("Failed to seed customer: %v", err)
	}

	env.createInvoice(t, 2)
	if _, err := env.pool.Exec(ctx,
		"UPDATE customers SET balance = 200.00 WHERE id = $1", env.customerID,
	); err != nil {
		t.Fatalf("Failed to sync cache: %v", err)
	}

	summary, err := env.reconciler.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}
	if summary.Checked != 2 {
		t.Errorf("Expected 2 customers checked, got %d", summary.Checked)
	}
	if summary.Corrected != 1 {
		t.Errorf("Expected 1 correction, got %d", summary.Corrected)
	}
}
