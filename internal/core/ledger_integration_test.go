package core_test

import (
	"context"
	"fmt"
	"testing"

	"billing-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestLedger_AppendAndRunningBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	debit, err := env.ledger.Append(ctx, core.LedgerEntry{
		CustomerID:      env.customerID,
		EntryType:       core.EntryDebit,
		TransactionType: core.TransactionAdjustment,
		Amount:          mustDecimal(t, "1000.00"),
		Description:     "Opening balance",
		CreatedBy:       "test",
	})
	if err != nil {
		t.Fatalf("Failed to append debit: %v", err)
	}
	assertDecimal(t, debit.BalanceBefore, "0", "first entry balance_before")
	assertDecimal(t, debit.BalanceAfter, "1000.00", "first entry balance_after")

	credit, err := env.ledger.Append(ctx, core.LedgerEntry{
		CustomerID:      env.customerID,
		EntryType:       core.EntryCredit,
		TransactionType: core.TransactionAdjustment,
		Amount:          mustDecimal(t, "400.00"),
		Description:     "Part settlement",
		CreatedBy:       "test",
	})
	if err != nil {
		t.Fatalf("Failed to append credit: %v", err)
	}
	assertDecimal(t, credit.BalanceBefore, "1000.00", "second entry balance_before")
	assertDecimal(t, credit.BalanceAfter, "600.00", "second entry balance_after")

	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "600.00", "ledger balance")

	entries, err := env.ledger.Entries(ctx, env.customerID, 10)
	if err != nil {
		t.Fatalf("Failed to list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].ID != credit.ID {
		t.Errorf("Expected newest entry first, got entry %d", entries[0].ID)
	}
}

func TestLedger_Idempotency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key := uuid.NewString()
	entry := core.LedgerEntry{
		CustomerID:      env.customerID,
		EntryType:       core.EntryDebit,
		TransactionType: core.TransactionAdjustment,
		Amount:          mustDecimal(t, "150.00"),
		Description:     "Idempotent append",
		IdempotencyKey:  key,
		CreatedBy:       "test",
	}

	if _, err := env.ledger.Append(ctx, entry); err != nil {
		t.Fatalf("First append failed: %v", err)
	}

	_, err := env.ledger.Append(ctx, entry)
	if err == nil {
		t.Fatal("Expected duplicate append to fail, but it succeeded")
	}
	if err.Error() != fmt.Sprintf("duplicate ledger entry: idempotency key %s already exists", key) {
		t.Errorf("Unexpected error message for duplicate append: %v", err)
	}

	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "150.00", "balance after duplicate append")
}

func TestLedger_RejectsInvalidEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ledger.Append(ctx, core.LedgerEntry{
		CustomerID:      env.customerID,
		EntryType:       core.EntryDebit,
		TransactionType: core.TransactionInvoice,
		Amount:          mustDecimal(t, "-5.00"),
	})
	if _, ok := asValidationError(err); !ok {
		t.Errorf("Expected ValidationError for negative amount, got %v", err)
	}

	_, err = env.ledger.Append(ctx, core.LedgerEntry{
		CustomerID:      99999,
		EntryType:       core.EntryDebit,
		TransactionType: core.TransactionAdjustment,
		Amount:          decimal.NewFromInt(10),
	})
	if _, ok := asValidationError(err); !ok {
		t.Errorf("Expected ValidationError for unknown customer, got %v", err)
	}

	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "0", "balance after rejected appends")
}
