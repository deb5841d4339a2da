package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ReturnLineInput names one invoice line being returned and how much of it.
type ReturnLineInput struct {
	InvoiceItemID int64           `json:"invoice_item_id"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// SettleReturnRequest describes a product return against one invoice.
type SettleReturnRequest struct {
	InvoiceID      int64             `json:"invoice_id"`
	SettlementType SettlementType    `json:"settlement_type"`
	Items          []ReturnLineInput `json:"items"`
	CreatedBy      string            `json:"created_by"`
}

// SettlementProcessor accepts and settles product returns.
//
// Ledger settlement writes a credit entry against the customer account;
// cash settlement records a cash-out at the register and never touches
// the ledger. Both restock the returned goods atomically with the
// monetary side. Invoices in partially_paid status cannot take returns;
// the payment must finish or be voided first.
type SettlementProcessor interface {
	// Validate checks the request without writing anything.
	Validate(ctx context.Context, req SettleReturnRequest) error
	// Settle validates and applies the return in one transaction.
	Settle(ctx context.Context, req SettleReturnRequest) (*Return, error)
	// Cancel reverses an accepted return with compensating movements.
	Cancel(ctx context.Context, returnID int64, cancelledBy string) (*Return, error)
	GetReturn(ctx context.Context, returnID int64) (*Return, error)
}

type settlementProcessor struct {
	pool   *pgxpool.Pool
	ledger *LedgerStore
	calc   BalanceCalculator
	stock  StockService
	cash   CashRegisterService
}

func NewSettlementProcessor(pool *pgxpool.Pool, ledger *LedgerStore, calc BalanceCalculator, stock StockService, cash CashRegisterService) SettlementProcessor {
	return &settlementProcessor{pool: pool, ledger: ledger, calc: calc, stock: stock, cash: cash}
}

// returnLine is a validated request line joined with its invoice item.
type returnLine struct {
	invoiceItemID int64
	productID     int64
	productCode   string
	quantity      decimal.Decimal
	unitPrice     decimal.Decimal
	totalPrice    decimal.Decimal
}

func (p *settlementProcessor) Validate(ctx context.Context, req SettleReturnRequest) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, _, err = p.validateTx(ctx, tx, req, false)
	return err
}

func (p *settlementProcessor) Settle(ctx context.Context, req SettleReturnRequest) (*Return, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	customerID, lines, err := p.validateTx(ctx, tx, req, true)
	if err != nil {
		return nil, err
	}

	var billNumber string
	if err := tx.QueryRow(ctx, "SELECT bill_number FROM invoices WHERE id = $1", req.InvoiceID).Scan(&billNumber); err != nil {
		return nil, fmt.Errorf("failed to resolve invoice %d: %w", req.InvoiceID, err)
	}

	total := decimal.Zero
	for _, ln := range lines {
		total = total.Add(ln.totalPrice)
	}
	total = RoundMoney(total)

	var returnID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO returns (customer_id, original_invoice_id, settlement_type, status, total_amount, created_by)
		VALUES ($1, $2, $3, 'accepted', $4, $5)
		RETURNING id
	`, customerID, req.InvoiceID, string(req.SettlementType), total, req.CreatedBy).Scan(&returnID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert return: %w", err)
	}

	for _, ln := range lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO return_items (return_id, original_invoice_item_id, return_quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5)
		`, returnID, ln.invoiceItemID, ln.quantity, ln.unitPrice, ln.totalPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to insert return item for product %s: %w", ln.productCode, err)
		}

		if err := p.stock.RestockTx(ctx, tx, ln.productID, ln.quantity, Reference{Type: "return", ID: returnID}); err != nil {
			return nil, &SettlementError{Item: ln.productCode, Err: err}
		}
	}

	switch req.SettlementType {
	case SettleLedger:
		_, err = p.ledger.AppendTx(ctx, tx, LedgerEntry{
			CustomerID:      customerID,
			EntryType:       EntryCredit,
			TransactionType: TransactionReturn,
			Amount:          total,
			Description:     fmt.Sprintf("Return against invoice %s", billNumber),
			Reference:       Reference{Type: "return", ID: returnID},
			CreatedBy:       req.CreatedBy,
		})
		if err != nil {
			return nil, &SettlementError{Item: "ledger", Err: err}
		}
	case SettleCash:
		// Customer leaves with banknotes; the ledger stays untouched.
		_, err = p.cash.RecordCashOutTx(ctx, tx, total,
			fmt.Sprintf("Cash refund for return against invoice %s", billNumber),
			Reference{Type: "return", ID: returnID})
		if err != nil {
			return nil, &SettlementError{Item: "cash register", Err: err}
		}
	}

	if _, err := p.calc.PersistTx(ctx, tx, req.InvoiceID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("return settlement", fmt.Errorf("failed to commit return: %w", err))
	}
	return p.GetReturn(ctx, returnID)
}

// validateTx runs every acceptance check inside the caller's transaction.
// With forUpdate set it takes the invoice and customer locks so the checks
// stay true until commit.
func (p *settlementProcessor) validateTx(ctx context.Context, tx pgx.Tx, req SettleReturnRequest, forUpdate bool) (int64, []returnLine, error) {
	if !req.SettlementType.valid() {
		return 0, nil, validationErrorf("settlement_type", "unrecognized value %q", string(req.SettlementType))
	}
	if len(req.Items) == 0 {
		return 0, nil, validationErrorf("items", "a return needs at least one item")
	}

	var customerID int64
	err := tx.QueryRow(ctx, "SELECT customer_id FROM invoices WHERE id = $1", req.InvoiceID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, validationErrorf("invoice_id", "invoice %d not found", req.InvoiceID)
		}
		return 0, nil, fmt.Errorf("failed to resolve invoice %d: %w", req.InvoiceID, err)
	}

	// Customer lock first, invoice lock second. Same order everywhere.
	if forUpdate {
		if err := lockCustomer(ctx, tx, customerID); err != nil {
			return 0, nil, err
		}
		if err := lockInvoice(ctx, tx, req.InvoiceID); err != nil {
			return 0, nil, err
		}
	}

	// Status is derived fresh from the formula, never read off the cached
	// column. A half-paid invoice would need partial refund arithmetic the
	// store does not do over the counter.
	bb, err := p.calc.ComputeTx(ctx, tx, req.InvoiceID)
	if err != nil {
		return 0, nil, err
	}
	if bb.Status == StatusPartiallyPaid {
		return 0, nil, validationErrorf("invoice_id",
			"invoice %d is partially paid; settle or void the payment before returning", req.InvoiceID)
	}

	lines := make([]returnLine, 0, len(req.Items))
	for _, item := range req.Items {
		if !item.Quantity.IsPositive() {
			return 0, nil, validationErrorf("quantity", "return quantity must be positive, got %s", item.Quantity)
		}

		var ln returnLine
		var sold decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT ii.id, ii.product_id, p.code, ii.quantity, ii.unit_price
			FROM invoice_items ii
			JOIN products p ON p.id = ii.product_id
			WHERE ii.id = $1 AND ii.invoice_id = $2
		`, item.InvoiceItemID, req.InvoiceID).Scan(&ln.invoiceItemID, &ln.productID, &ln.productCode, &sold, &ln.unitPrice)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, nil, validationErrorf("invoice_item_id",
					"item %d does not belong to invoice %d", item.InvoiceItemID, req.InvoiceID)
			}
			return 0, nil, fmt.Errorf("failed to fetch invoice item %d: %w", item.InvoiceItemID, err)
		}

		var alreadyReturned decimal.Decimal
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(ri.return_quantity), 0)
			FROM return_items ri
			JOIN returns r ON r.id = ri.return_id
			WHERE ri.original_invoice_item_id = $1 AND r.status = 'accepted'
		`, item.InvoiceItemID).Scan(&alreadyReturned)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to sum prior returns for item %d: %w", item.InvoiceItemID, err)
		}

		returnable := sold.Sub(alreadyReturned)
		if item.Quantity.GreaterThan(returnable) {
			return 0, nil, validationErrorf("quantity",
				"product %s: requested %s exceeds returnable %s (sold %s, already returned %s)",
				ln.productCode, item.Quantity, returnable, sold, alreadyReturned)
		}

		ln.quantity = item.Quantity
		ln.totalPrice = RoundMoney(item.Quantity.Mul(ln.unitPrice))
		lines = append(lines, ln)
	}
	return customerID, lines, nil
}

// Cancel reverses an accepted return. Restocked goods are consumed back
// out, a ledger-settled refund gets a compensating debit, and a cash
// refund gets a matching cash-in. The original rows are never edited
// beyond the status flip.
func (p *settlementProcessor) Cancel(ctx context.Context, returnID int64, cancelledBy string) (*Return, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var ret Return
	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, original_invoice_id, settlement_type, status, total_amount
		FROM returns WHERE id = $1
	`, returnID).Scan(&ret.ID, &ret.CustomerID, &ret.OriginalInvoiceID, &ret.SettlementType, &ret.Status, &ret.TotalAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("return_id", "return %d not found", returnID)
		}
		return nil, fmt.Errorf("failed to resolve return %d: %w", returnID, err)
	}

	if err := lockCustomer(ctx, tx, ret.CustomerID); err != nil {
		return nil, err
	}

	// Re-read the status under the customer lock; a concurrent Cancel
	// holds the same lock, so the check cannot race.
	err = tx.QueryRow(ctx, "SELECT status FROM returns WHERE id = $1 FOR UPDATE", returnID).Scan(&ret.Status)
	if err != nil {
		return nil, wrapConcurrency("return cancel", fmt.Errorf("failed to lock return %d: %w", returnID, err))
	}
	if ret.Status != ReturnAccepted {
		return nil, validationErrorf("return_id", "return %d is already %s", returnID, ret.Status)
	}

	rows, err := tx.Query(ctx, `
		SELECT ri.id, ii.product_id, ri.return_quantity
		FROM return_items ri
		JOIN invoice_items ii ON ii.id = ri.original_invoice_item_id
		WHERE ri.return_id = $1
	`, returnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load return items: %w", err)
	}
	type cancelLine struct {
		productID int64
		quantity  decimal.Decimal
	}
	var cancelLines []cancelLine
	for rows.Next() {
		var cl cancelLine
		var itemID int64
		if err := rows.Scan(&itemID, &cl.productID, &cl.quantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan return item: %w", err)
		}
		cancelLines = append(cancelLines, cl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating return items: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE returns SET status = 'cancelled' WHERE id = $1", returnID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel return %d: %w", returnID, err)
	}

	for _, cl := range cancelLines {
		if err := p.stock.ConsumeTx(ctx, tx, cl.productID, cl.quantity, Reference{Type: "return", ID: returnID}); err != nil {
			return nil, &SettlementError{Item: fmt.Sprintf("product %d", cl.productID), Err: err}
		}
	}

	switch ret.SettlementType {
	case SettleLedger:
		_, err = p.ledger.AppendTx(ctx, tx, LedgerEntry{
			CustomerID:      ret.CustomerID,
			EntryType:       EntryDebit,
			TransactionType: TransactionAdjustment,
			Amount:          ret.TotalAmount,
			Description:     fmt.Sprintf("Cancellation of return %d", returnID),
			Reference:       Reference{Type: "return", ID: returnID},
			CreatedBy:       cancelledBy,
		})
		if err != nil {
			return nil, &SettlementError{Item: "ledger", Err: err}
		}
	case SettleCash:
		_, err = p.cash.RecordCashInTx(ctx, tx, ret.TotalAmount,
			fmt.Sprintf("Cancellation of cash refund for return %d", returnID),
			Reference{Type: "return", ID: returnID})
		if err != nil {
			return nil, &SettlementError{Item: "cash register", Err: err}
		}
	}

	if _, err := p.calc.PersistTx(ctx, tx, ret.OriginalInvoiceID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("return cancel", fmt.Errorf("failed to commit cancellation: %w", err))
	}
	return p.GetReturn(ctx, returnID)
}

func (p *settlementProcessor) GetReturn(ctx context.Context, returnID int64) (*Return, error) {
	var ret Return
	err := p.pool.QueryRow(ctx, `
		SELECT id, customer_id, original_invoice_id, settlement_type, status, total_amount, created_by, created_at
		FROM returns WHERE id = $1
	`, returnID).Scan(&ret.ID, &ret.CustomerID, &ret.OriginalInvoiceID, &ret.SettlementType,
		&ret.Status, &ret.TotalAmount, &ret.CreatedBy, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("return_id", "return %d not found", returnID)
		}
		return nil, fmt.Errorf("failed to fetch return %d: %w", returnID, err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, return_id, original_invoice_item_id, return_quantity, unit_price, total_price
		FROM return_items WHERE return_id = $1 ORDER BY id
	`, returnID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch return items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ri ReturnItem
		if err := rows.Scan(&ri.ID, &ri.ReturnID, &ri.OriginalInvoiceItemID, &ri.ReturnQuantity, &ri.UnitPrice, &ri.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to scan return item: %w", err)
		}
		ret.Items = append(ret.Items, ri)
	}
	return &ret, rows.Err()
}
