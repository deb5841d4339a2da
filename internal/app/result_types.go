package app

import (
	"billing-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// CustomerResult is returned by CreateCustomer.
type CustomerResult struct {
	Customer *core.Customer
}

// StatementResult is returned by GetCustomerStatement.
type StatementResult struct {
	Customer      *core.Customer
	LedgerBalance decimal.Decimal
	Entries       []core.LedgerEntry
}

// InvoiceResult is returned by invoice operations.
type InvoiceResult struct {
	Invoice *core.Invoice
}

// PaymentResult is returned by RecordPayment.
type PaymentResult struct {
	Breakdown *core.BalanceBreakdown
}

// AllocationResult is returned by AllocateCredit.
type AllocationResult struct {
	Allocations    []core.AllocationResult
	TotalAllocated decimal.Decimal
}

// ReturnResult is returned by SettleReturn and CancelReturn.
type ReturnResult struct {
	Return  *core.Return
	Invoice *core.Invoice
}
