package app

import (
	"context"

	"billing-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// ApplicationService is the single interface all UI adapters (CLI, future
// web) call. It decouples presentation from business logic. Implementations
// must contain no fmt.Println, no ANSI codes, and no display logic of any
// kind.
type ApplicationService interface {
	// CreateCustomer registers a customer account with a zero balance.
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*CustomerResult, error)

	// GetCustomerStatement returns the customer, the authoritative ledger
	// balance and the most recent ledger entries.
	GetCustomerStatement(ctx context.Context, customerID int64, limit int) (*StatementResult, error)

	// CreateInvoice records a sale: stock is consumed, a gapless bill
	// number is assigned and the invoice debit hits the ledger.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error)

	// GetInvoice returns an invoice by numeric ID or bill number string.
	GetInvoice(ctx context.Context, ref string) (*InvoiceResult, error)

	// RecordPayment applies a direct payment to an invoice.
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error)

	// AllocateCredit spends confirmed store credit across invoices, oldest
	// first. Must only be called after explicit user confirmation of the
	// amount; it never runs implicitly during invoice creation.
	AllocateCredit(ctx context.Context, req AllocateCreditRequest) (*AllocationResult, error)

	// GetAvailableCredit returns how much store credit the customer holds.
	GetAvailableCredit(ctx context.Context, customerID int64) (decimal.Decimal, error)

	// SettleReturn validates and settles a product return.
	SettleReturn(ctx context.Context, req SettleReturnRequest) (*ReturnResult, error)

	// CancelReturn reverses an accepted return with compensating movements.
	CancelReturn(ctx context.Context, returnID int64, cancelledBy string) (*ReturnResult, error)

	// RecordAdjustment writes a manual ledger adjustment with a fresh
	// idempotency key. Used for opening balances and corrections agreed
	// with the customer.
	RecordAdjustment(ctx context.Context, req AdjustmentRequest) (*core.LedgerEntry, error)

	// Reconcile recomputes one customer's cached balance from the ledger.
	Reconcile(ctx context.Context, customerID int64) (*core.BalanceCorrection, error)

	// ReconcileAll runs a full reconciliation pass.
	ReconcileAll(ctx context.Context) (*core.ReconcileSummary, error)

	// GetDayTotal returns today's net cash register position.
	GetDayTotal(ctx context.Context) (decimal.Decimal, error)
}
