package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InvoiceLineInput is one sale line in an invoice creation request.
// UnitPrice overrides the catalog price when non-zero.
type InvoiceLineInput struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateInvoiceRequest struct {
	CustomerID int64              `json:"customer_id"`
	Items      []InvoiceLineInput `json:"items"`
	CreatedBy  string             `json:"created_by"`
}

// BillingService owns invoice creation and direct payments. It never
// allocates store credit on its own: credit allocation requires a separate,
// explicitly confirmed CreditAllocator.Allocate call.
type BillingService interface {
	CreateCustomer(ctx context.Context, name, phone, address string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID int64) (*Customer, error)

	// CreateInvoice consumes stock, assigns a gapless bill number, writes
	// the invoice debit to the ledger and persists the initial balance,
	// all in one transaction.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)

	// RecordPayment applies a cash/bank payment to an invoice. Cumulative
	// payments may never exceed grand_total − Σreturns.
	RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method, createdBy string) (*BalanceBreakdown, error)

	GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error)
	GetInvoiceByBillNumber(ctx context.Context, billNumber string) (*Invoice, error)
}

type billingService struct {
	pool   *pgxpool.Pool
	ledger *LedgerStore
	calc   BalanceCalculator
	stock  StockService
}

func NewBillingService(pool *pgxpool.Pool, ledger *LedgerStore, calc BalanceCalculator, stock StockService) BillingService {
	return &billingService{pool: pool, ledger: ledger, calc: calc, stock: stock}
}

// ── Master data ──────────────────────────────────────────────────────────────

func (s *billingService) CreateCustomer(ctx context.Context, name, phone, address string) (*Customer, error) {
	if name == "" {
		return nil, validationErrorf("name", "must not be empty")
	}
	var c Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (name, phone, address)
		VALUES ($1, $2, $3)
		RETURNING id, name, phone, address, balance, balance_synced_at, created_at
	`, name, phone, address).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.Balance, &c.BalanceSyncedAt, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &c, nil
}

func (s *billingService) GetCustomer(ctx context.Context, customerID int64) (*Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, phone, address, balance, balance_synced_at, created_at
		FROM customers WHERE id = $1
	`, customerID).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.Balance, &c.BalanceSyncedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("customer_id", "customer %d not found", customerID)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}
	return &c, nil
}

// ── Invoice lifecycle ────────────────────────────────────────────────────────

func (s *billingService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	if len(req.Items) == 0 {
		return nil, validationErrorf("items", "invoice must have at least one item")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Customer lock first, product locks second. Every mutating operation
	// takes locks in this order.
	if err := lockCustomer(ctx, tx, req.CustomerID); err != nil {
		return nil, err
	}

	type resolvedLine struct {
		productID int64
		quantity  decimal.Decimal
		unitPrice decimal.Decimal
		total     decimal.Decimal
	}
	var resolved []resolvedLine
	grandTotal := decimal.Zero

	for i, input := range req.Items {
		if !input.Quantity.IsPositive() {
			return nil, validationErrorf("items", "line %d: quantity must be positive, got %s", i+1, input.Quantity)
		}
		var unitPrice decimal.Decimal
		err := tx.QueryRow(ctx, "SELECT unit_price FROM products WHERE id = $1", input.ProductID).Scan(&unitPrice)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, validationErrorf("items", "line %d: product %d not found", i+1, input.ProductID)
			}
			return nil, fmt.Errorf("line %d: failed to resolve product: %w", i+1, err)
		}
		if input.UnitPrice.IsPositive() {
			unitPrice = input.UnitPrice
		}
		unitPrice = RoundMoney(unitPrice)
		total := RoundMoney(input.Quantity.Mul(unitPrice))
		grandTotal = grandTotal.Add(total)
		resolved = append(resolved, resolvedLine{
			productID: input.ProductID,
			quantity:  input.Quantity,
			unitPrice: unitPrice,
			total:     total,
		})
	}
	grandTotal = RoundMoney(grandTotal)

	billNumber, err := nextBillNumber(ctx, tx)
	if err != nil {
		return nil, err
	}

	var invoiceID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (bill_number, customer_id, grand_total, remaining_balance, status, created_by)
		VALUES ($1, $2, $3, $3, 'pending', $4)
		RETURNING id
	`, billNumber, req.CustomerID, grandTotal, req.CreatedBy).Scan(&invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	for i, rl := range resolved {
		_, err = tx.Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, product_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5)
		`, invoiceID, rl.productID, rl.quantity, rl.unitPrice, rl.total)
		if err != nil {
			return nil, fmt.Errorf("failed to insert invoice item %d: %w", i+1, err)
		}
		if err := s.stock.ConsumeTx(ctx, tx, rl.productID, rl.quantity, Reference{Type: "invoice", ID: invoiceID}); err != nil {
			return nil, err
		}
	}

	_, err = s.ledger.AppendTx(ctx, tx, LedgerEntry{
		CustomerID:      req.CustomerID,
		EntryType:       EntryDebit,
		TransactionType: TransactionInvoice,
		Amount:          grandTotal,
		Description:     fmt.Sprintf("Invoice %s", billNumber),
		Reference:       Reference{Type: "invoice", ID: invoiceID},
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.calc.PersistTx(ctx, tx, invoiceID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("create invoice", fmt.Errorf("failed to commit invoice creation: %w", err))
	}

	return s.GetInvoice(ctx, invoiceID)
}

func (s *billingService) RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method, createdBy string) (*BalanceBreakdown, error) {
	amount = RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, validationErrorf("amount", "payment must be positive, got %s", amount)
	}
	if method == "" {
		method = "cash"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var customerID int64
	var billNumber string
	err = tx.QueryRow(ctx,
		"SELECT customer_id, bill_number FROM invoices WHERE id = $1",
		invoiceID,
	).Scan(&customerID, &billNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("invoice_id", "invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to resolve invoice %d: %w", invoiceID, err)
	}

	// Customer lock first, invoice lock second. Same order everywhere.
	if err := lockCustomer(ctx, tx, customerID); err != nil {
		return nil, err
	}
	if err := lockInvoice(ctx, tx, invoiceID); err != nil {
		return nil, err
	}

	bb, err := s.calc.ComputeTx(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	// Cumulative payments are capped at grand_total − Σreturns, i.e. the
	// current remaining balance.
	if amount.GreaterThan(bb.Remaining) {
		return nil, validationErrorf("amount",
			"payment %s exceeds remaining balance %s on invoice %s", amount, bb.Remaining, billNumber)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO payments (invoice_id, amount, method) VALUES ($1, $2, $3)",
		invoiceID, amount, method,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	_, err = s.ledger.AppendTx(ctx, tx, LedgerEntry{
		CustomerID:      customerID,
		EntryType:       EntryCredit,
		TransactionType: TransactionPayment,
		Amount:          amount,
		Description:     fmt.Sprintf("Payment (%s) against invoice %s", method, billNumber),
		Reference:       Reference{Type: "invoice", ID: invoiceID},
		CreatedBy:       createdBy,
	})
	if err != nil {
		return nil, err
	}

	bb, err = s.calc.PersistTx(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("record payment", fmt.Errorf("failed to commit payment: %w", err))
	}
	return bb, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *billingService) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	return fetchInvoice(ctx, s.pool, "i.id = $1", invoiceID)
}

func (s *billingService) GetInvoiceByBillNumber(ctx context.Context, billNumber string) (*Invoice, error) {
	return fetchInvoice(ctx, s.pool, "i.bill_number = $1", billNumber)
}

func fetchInvoice(ctx context.Context, q extendedQuerier, where string, arg any) (*Invoice, error) {
	var inv Invoice
	err := q.QueryRow(ctx, `
		SELECT i.id, i.bill_number, i.customer_id, i.grand_total, i.remaining_balance,
		       i.status, i.created_by, i.created_at
		FROM invoices i
		WHERE `+where,
		arg,
	).Scan(&inv.ID, &inv.BillNumber, &inv.CustomerID, &inv.GrandTotal, &inv.Remaining,
		&inv.Status, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("invoice", "invoice %v not found", arg)
		}
		return nil, fmt.Errorf("failed to fetch invoice: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, product_id, quantity, unit_price, total_price
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY id
	`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	return &inv, rows.Err()
}

// nextBillNumber draws the next gapless bill number. The single-row upsert
// serializes concurrent invoice creation on the sequence.
func nextBillNumber(ctx context.Context, tx pgx.Tx) (string, error) {
	var lastNumber int64
	err := tx.QueryRow(ctx, `
		INSERT INTO bill_sequences (id, last_number)
		VALUES (1, 1)
		ON CONFLICT (id)
		DO UPDATE SET last_number = bill_sequences.last_number + 1
		RETURNING last_number
	`).Scan(&lastNumber)
	if err != nil {
		return "", wrapConcurrency("bill number", fmt.Errorf("failed to generate bill number: %w", err))
	}
	return fmt.Sprintf("BILL-%06d", lastNumber), nil
}
