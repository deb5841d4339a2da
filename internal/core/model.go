package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the sign of a ledger entry: a debit increases what the
// customer owes, a credit decreases it.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// TransactionType is the closed set of business events that may produce a
// ledger entry. Values are validated at the LedgerStore boundary; no other
// strings ever reach the table.
type TransactionType string

const (
	TransactionInvoice    TransactionType = "invoice"
	TransactionPayment    TransactionType = "payment"
	TransactionReturn     TransactionType = "return"
	TransactionAdjustment TransactionType = "adjustment"
)

// InvoiceStatus is derived exclusively from the remaining balance by the
// BalanceCalculator. It is never assigned from anywhere else.
type InvoiceStatus string

const (
	StatusPending       InvoiceStatus = "pending"
	StatusPartiallyPaid InvoiceStatus = "partially_paid"
	StatusPaid          InvoiceStatus = "paid"
)

// SettlementType selects how a return's monetary value is resolved.
type SettlementType string

const (
	SettleLedger SettlementType = "ledger"
	SettleCash   SettlementType = "cash"
)

// ReturnStatus marks whether a return still counts toward returnable
// quantities and invoice totals.
type ReturnStatus string

const (
	ReturnAccepted  ReturnStatus = "accepted"
	ReturnCancelled ReturnStatus = "cancelled"
)

// MovementType is the direction of a stock movement.
type MovementType string

const (
	MovementIn  MovementType = "in"
	MovementOut MovementType = "out"
)

// Reference links a ledger entry, stock movement or cash register entry
// back to the business record that produced it.
type Reference struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// LedgerEntry is an immutable signed record against a customer's account.
// balance_after = balance_before + amount for debits, − amount for credits.
// Entries are never edited or deleted; corrections are new compensating
// entries.
type LedgerEntry struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	EntryType       EntryType       `json:"entry_type"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	Reference       Reference       `json:"reference"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
	CreatedBy       string          `json:"created_by"`
}

type Customer struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	// Balance is the derived cache. Positive = customer owes the store,
	// negative = customer holds credit. Only the reconciler writes it.
	Balance         decimal.Decimal `json:"balance"`
	BalanceSyncedAt *time.Time      `json:"balance_synced_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Product struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockQuantity decimal.Decimal `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Invoice struct {
	ID         int64           `json:"id"`
	BillNumber string          `json:"bill_number"`
	CustomerID int64           `json:"customer_id"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Remaining  decimal.Decimal `json:"remaining_balance"`
	Status     InvoiceStatus   `json:"status"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	Items      []InvoiceItem   `json:"items,omitempty"`
}

type InvoiceItem struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"invoice_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type Payment struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	AppliedAt time.Time       `json:"applied_at"`
}

type Return struct {
	ID                int64           `json:"id"`
	CustomerID        int64           `json:"customer_id"`
	OriginalInvoiceID int64           `json:"original_invoice_id"`
	SettlementType    SettlementType  `json:"settlement_type"`
	Status            ReturnStatus    `json:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	Items             []ReturnItem    `json:"items,omitempty"`
}

type ReturnItem struct {
	ID                    int64           `json:"id"`
	ReturnID              int64           `json:"return_id"`
	OriginalInvoiceItemID int64           `json:"original_invoice_item_id"`
	ReturnQuantity        decimal.Decimal `json:"return_quantity"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	TotalPrice            decimal.Decimal `json:"total_price"`
}

// BalanceCorrection is the audit record the reconciler writes when the
// cached customer balance drifted from the ledger-derived truth.
type BalanceCorrection struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"customer_id"`
	CachedBalance decimal.Decimal `json:"cached_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Delta         decimal.Decimal `json:"delta"`
	CorrectedAt   time.Time       `json:"corrected_at"`
}

func (t EntryType) valid() bool {
	return t == EntryDebit || t == EntryCredit
}

func (t TransactionType) valid() bool {
	switch t {
	case TransactionInvoice, TransactionPayment, TransactionReturn, TransactionAdjustment:
		return true
	}
	return false
}

func (t SettlementType) valid() bool {
	return t == SettleLedger || t == SettleCash
}
