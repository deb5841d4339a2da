package app

import "github.com/shopspring/decimal"

// CreateCustomerRequest is the input for registering a customer.
type CreateCustomerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// InvoiceLine is a single sale line within a CreateInvoiceRequest.
type InvoiceLine struct {
	ProductCode string          `json:"product_code"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"` // zero means "use catalog price"
}

// CreateInvoiceRequest is the input for recording a sale.
type CreateInvoiceRequest struct {
	CustomerID int64         `json:"customer_id"`
	Lines      []InvoiceLine `json:"lines"`
	CreatedBy  string        `json:"created_by"`
}

// RecordPaymentRequest applies a direct payment against one invoice.
// InvoiceRef may be a numeric ID or a bill number string.
type RecordPaymentRequest struct {
	InvoiceRef string          `json:"invoice_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	CreatedBy  string          `json:"created_by"`
}

// AllocateCreditRequest spends confirmed store credit.
// TargetInvoiceIDs empty means every outstanding invoice, oldest first.
type AllocateCreditRequest struct {
	CustomerID       int64           `json:"customer_id"`
	Amount           decimal.Decimal `json:"amount"`
	TargetInvoiceIDs []int64         `json:"target_invoice_ids,omitempty"`
}

// ReturnLine names one invoice line being returned.
type ReturnLine struct {
	InvoiceItemID int64           `json:"invoice_item_id"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// SettleReturnRequest is the input for settling a product return.
// Settlement is "ledger" (store credit) or "cash" (register payout).
type SettleReturnRequest struct {
	InvoiceRef string       `json:"invoice_ref"`
	Settlement string       `json:"settlement"`
	Lines      []ReturnLine `json:"lines"`
	CreatedBy  string       `json:"created_by"`
}

// AdjustmentRequest is a manual ledger correction. EntryType is "debit"
// or "credit".
type AdjustmentRequest struct {
	CustomerID  int64           `json:"customer_id"`
	EntryType   string          `json:"entry_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedBy   string          `json:"created_by"`
}
