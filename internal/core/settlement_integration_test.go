package core_test

import (
	"context"
	"testing"

	"billing-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// Paid invoice, three bags come back as store credit.
func TestSettlement_LedgerReturnCreatesCredit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 10) // 1000.00
	env.payInFull(t, invoice)

	ret, err := env.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettleLedger,
		Items: []core.ReturnLineInput{
			{InvoiceItemID: invoice.Items[0].ID, Quantity: decimal.NewFromInt(3)},
		},
		CreatedBy: "test",
	})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	assertDecimal(t, ret.TotalAmount, "300.00", "return total")
	if ret.Status != core.ReturnAccepted {
		t.Errorf("Expected accepted return, got %s", ret.Status)
	}

	// The customer now holds 300 of store credit.
	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "-300.00", "ledger balance after return")

	credit, err := env.allocator.AvailableCredit(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get credit: %v", err)
	}
	assertDecimal(t, credit, "300.00", "available credit")

	// Goods are back on the shelf and the invoice stays paid.
	assertDecimal(t, env.stockQuantity(t, env.riceID), "93", "stock after return")
	updated, err := env.billing.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("Failed to fetch invoice: %v", err)
	}
	if updated.Status != core.StatusPaid {
		t.Errorf("Expected invoice to stay paid, got %s", updated.Status)
	}
}

// Cash settlement pays out at the register and never touches the ledger.
func TestSettlement_CashReturnSkipsLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 5) // 500.00
	env.payInFull(t, invoice)

	_, err := env.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettleCash,
		Items: []core.ReturnLineInput{
			{InvoiceItemID: invoice.Items[0].ID, Quantity: decimal.NewFromInt(2)},
		},
		CreatedBy: "test",
	})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "0", "ledger balance after cash return")

	dayTotal, err := env.cash.DayTotal(ctx)
	if err != nil {
		t.Fatalf("Failed to get day total: %v", err)
	}
	// payment was recorded through the ledger, so the register only
	// shows the 200.00 payout.
	assertDecimal(t, dayTotal, "-200.00", "register day total")

	assertDecimal(t, env.stockQuantity(t, env.riceID), "97", "stock after cash return")
}

func TestSettlement_RejectsOverReturn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 5)
	env.payInFull(t, invoice)
	itemID := invoice.Items[0].ID

	_, err := env.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettleLedger,
		Items:          []core.ReturnLineInput{{InvoiceItemID: itemID, Quantity: decimal.NewFromInt(3)}},
		CreatedBy:      "test",
	})
	if err != nil {
		t.Fatalf("First return failed: %v", err)
	}

	// Only 2 of 5 remain returnable; asking for 3 must fail.
	_, err = env.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettleLedger,
		Items:          []core.ReturnLineInput{{InvoiceItemID: itemID, Quantity: decimal.NewFromInt(3)}},
		CreatedBy:      "test",
	})
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("Expected ValidationError for over-return, got %v", err)
	}

	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "-300.00", "balance after rejected over-return")
}

func TestSettlement_RejectsPartiallyPaidInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 10)
	if _, err := env.billing.RecordPayment(ctx, invoice.ID, mustDecimal(t, "400.00"), "cash", "test"); err != nil {
		t.Fatalf("Payment failed: %v", err)
	}

	_, err := env.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettleLedger,
		Items:          []core.ReturnLineInput{{InvoiceItemID: invoice.Items[0].ID, Quantity: decimal.NewFromInt(1)}},
		CreatedBy:      "test",
	})
	if _, ok := asValidationError(err); !ok {
		t.Fatalf("Expected ValidationError for partially paid invoice, got %v", err)
	}
}

func TestSettlement_CancelReversesLedgerReturn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	invoice := env.createInvoice(t, 10)
	env.payInFull(t, invoice)

	ret, err := env.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettleLedger,
		Items:          []core.ReturnLineInput{{InvoiceItemID: invoice.Items[0].ID, Quantity: decimal.NewFromInt(3)}},
		CreatedBy:      "test",
	})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	cancelled, err := env.settlement.Cancel(ctx, ret.ID, "test")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != core.ReturnCancelled {
		t.Errorf("Expected cancelled return, got %s", cancelled.Status)
	}

	// Credit is clawed back, goods leave the shelf again.
	balance, err := env.ledger.GetBalance(ctx, env.customerID)
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	assertDecimal(t, balance, "0", "balance after cancel")
	assertDecimal(t, env.stockQuantity(t, env.riceID), "90", "stock after cancel")

	// Cancelled returns no longer count toward returnable quantity.
	_, err = env.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettleLedger,
		Items:          []core.ReturnLineInput{{InvoiceItemID: invoice.Items[0].ID, Quantity: decimal.NewFromInt(10)}},
		CreatedBy:      "test",
	})
	if err != nil {
		t.Fatalf("Full return after cancel failed: %v", err)
	}

	// A second cancel of the same return is rejected.
	if _, err := env.settlement.Cancel(ctx, ret.ID, "test"); err == nil {
		t.Error("Expected second cancel to fail")
	}
}
