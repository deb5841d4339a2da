package core_test

import (
	"context"
	"testing"

	"billing-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// Sale of 10 rice bags (1000.00), then a partial payment of 400.00.
func TestBilling_InvoiceAndPartialPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 10)

	if invoice.BillNumber != "BILL-000001" {
		t.Errorf("Expected bill number BILL-000001, got %s", invoice.BillNumber)
	}
	assertDecimal(t, invoice.GrandTotal, "1000.00", "grand total")
	assertDecimal(t, invoice.Remaining, "1000.00", "initial remaining")
	if invoice.Status != core.StatusPending {
		t.Errorf("Expected pending invoice, got %s", invoice.Status)
	}

	// The sale consumed stock and debited the ledger.
	assertDecimal(t, env.stockQuantity(t, env.riceID), "90", "rice stock after sale")
	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "1000.00", "ledger balance after sale")

	bb, err := env.billing.RecordPayment(ctx, invoice.ID, mustDecimal(t, "400.00"), "cash", "test")
	if err != nil {
		t.Fatalf("Payment failed: %v", err)
	}
	assertDecimal(t, bb.Remaining, "600.00", "remaining after payment")
	if bb.Status != core.StatusPartiallyPaid {
		t.Errorf("Expected partially_paid, got %s", bb.Status)
	}

	balance, err = env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "600.00", "ledger balance after payment")

	// Second invoice continues the gapless sequence.
	second := env.createInvoice(t, 1)
	if second.BillNumber != "BILL-000002" {
		t.Errorf("Expected bill number BILL-000002, got %s", second.BillNumber)
	}
}

func TestBilling_RejectsOverpayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 5) // 500.00
	if _, err := env.billing.RecordPayment(ctx, invoice.ID, mustDecimal(t, "300.00"), "cash", "test"); err != nil {
		t.Fatalf("Payment failed: %v", err)
	}

	_, err := env.billing.RecordPayment(ctx, invoice.ID, mustDecimal(t, "300.00"), "cash", "test")
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("Expected ValidationError for overpayment, got %v", err)
	}

	bb, err := env.calc.Compute(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	assertDecimal(t, bb.TotalPayments, "300.00", "payments after rejected overpayment")
}

func TestBilling_RejectsInsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.billing.CreateInvoice(ctx, core.CreateInvoiceRequest{
		CustomerID: env.customerID,
		Items: []core.InvoiceLineInput{
			{ProductID: env.riceID, Quantity: decimal.NewFromInt(101)},
		},
		CreatedBy: "test",
	})
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("Expected ValidationError for insufficient stock, got %v", err)
	}

	// Nothing committed: no invoice, no ledger entry, stock intact.
	var invoices int
	if err := env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices").Scan(&invoices); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if invoices != 0 {
		t.Errorf("Expected no invoices after rollback, got %d", invoices)
	}
	assertDecimal(t, env.stockQuantity(t, env.riceID), "100", "stock after rollback")
}

func TestBilling_PriceOverridePerLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice, err := env.billing.CreateInvoice(ctx, core.CreateInvoiceRequest{
		CustomerID: env.customerID,
		Items: []core.InvoiceLineInput{
			{ProductID: env.riceID, Quantity: decimal.NewFromInt(2), UnitPrice: mustDecimal(t, "90.00")},
			{ProductID: env.oilID, Quantity: decimal.NewFromInt(1)},
		},
		CreatedBy: "test",
	})
	if err != nil {
		t.Fatalf("Failed to create invoice: %v", err)
	}
	// 2 x 90 negotiated + 1 x 50 catalog.
	assertDecimal(t, invoice.GrandTotal, "230.00", "grand total with override")
}
