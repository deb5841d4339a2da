package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AllocationResult reports what one allocation pass did to one invoice.
type AllocationResult struct {
	InvoiceID       int64           `json:"invoice_id"`
	AmountAllocated decimal.Decimal `json:"amount_allocated"`
	ResultingStatus InvoiceStatus   `json:"resulting_status"`
}

// CreditAllocator spends a customer's store credit across outstanding
// invoices, oldest first. Allocate is mechanical: it must only run after
// the invoice-creation workflow has presented the credit scenarios to a
// human and obtained an explicitly confirmed amount.
type CreditAllocator interface {
	// AvailableCredit returns the magnitude of the customer's negative
	// ledger balance. Entries referencing the given invoices are excluded,
	// which yields the credit as it stood before those invoices' own debit
	// entries existed.
	AvailableCredit(ctx context.Context, customerID int64, excludeInvoiceIDs ...int64) (decimal.Decimal, error)

	// Allocate applies up to targetAmount of credit across the target
	// invoices in FIFO order (nil targets = all outstanding invoices).
	// The whole call is one transaction that re-reads available credit
	// after taking the customer lock, so two concurrent calls can never
	// both spend the same credit.
	Allocate(ctx context.Context, customerID int64, targetAmount decimal.Decimal, targetInvoiceIDs []int64) ([]AllocationResult, error)
}

type creditAllocator struct {
	pool   *pgxpool.Pool
	ledger *LedgerStore
	calc   BalanceCalculator
}

func NewCreditAllocator(pool *pgxpool.Pool, ledger *LedgerStore, calc BalanceCalculator) CreditAllocator {
	return &creditAllocator{pool: pool, ledger: ledger, calc: calc}
}

func (a *creditAllocator) AvailableCredit(ctx context.Context, customerID int64, excludeInvoiceIDs ...int64) (decimal.Decimal, error) {
	return availableCredit(ctx, a.pool, customerID, excludeInvoiceIDs)
}

func (a *creditAllocator) Allocate(ctx context.Context, customerID int64, targetAmount decimal.Decimal, targetInvoiceIDs []int64) ([]AllocationResult, error) {
	targetAmount = RoundMoney(targetAmount)
	if !targetAmount.IsPositive() {
		return nil, validationErrorf("target_amount", "must be positive, got %s", targetAmount)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The customer lock serializes concurrent allocations; the credit read
	// below therefore always sees committed state.
	if err := lockCustomer(ctx, tx, customerID); err != nil {
		return nil, err
	}

	targets, err := a.resolveTargets(ctx, tx, customerID, targetInvoiceIDs)
	if err != nil {
		return nil, err
	}

	credit, err := availableCredit(ctx, tx, customerID, targets)
	if err != nil {
		return nil, err
	}

	remaining := decimal.Min(targetAmount, credit)
	var results []AllocationResult

	for _, invoiceID := range targets {
		if !remaining.IsPositive() {
			break
		}

		bb, err := a.calc.ComputeTx(ctx, tx, invoiceID)
		if err != nil {
			return nil, err
		}

		amount := decimal.Min(remaining, bb.Remaining)
		if !amount.IsPositive() {
			continue
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO payments (invoice_id, amount, method) VALUES ($1, $2, 'store_credit')",
			invoiceID, amount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert credit payment for invoice %d: %w", invoiceID, err)
		}

		var billNumber string
		if err := tx.QueryRow(ctx, "SELECT bill_number FROM invoices WHERE id = $1", invoiceID).Scan(&billNumber); err != nil {
			return nil, fmt.Errorf("failed to resolve invoice %d: %w", invoiceID, err)
		}

		// Balanced pair: the invoice's own debit entry already moved the
		// balance, so spending credit is documented at net zero. A debit
		// consumes the store credit and a credit pays the invoice.
		_, err = a.ledger.AppendTx(ctx, tx, LedgerEntry{
			CustomerID:      customerID,
			EntryType:       EntryDebit,
			TransactionType: TransactionAdjustment,
			Amount:          amount,
			Description:     fmt.Sprintf("Store credit applied to invoice %s", billNumber),
			Reference:       Reference{Type: "invoice", ID: invoiceID},
		})
		if err != nil {
			return nil, err
		}
		_, err = a.ledger.AppendTx(ctx, tx, LedgerEntry{
			CustomerID:      customerID,
			EntryType:       EntryCredit,
			TransactionType: TransactionPayment,
			Amount:          amount,
			Description:     fmt.Sprintf("Credit allocation against invoice %s", billNumber),
			Reference:       Reference{Type: "invoice", ID: invoiceID},
		})
		if err != nil {
			return nil, err
		}

		bb, err = a.calc.PersistTx(ctx, tx, invoiceID)
		if err != nil {
			return nil, err
		}

		remaining = remaining.Sub(amount)
		results = append(results, AllocationResult{
			InvoiceID:       invoiceID,
			AmountAllocated: amount,
			ResultingStatus: bb.Status,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("credit allocation", fmt.Errorf("failed to commit allocation: %w", err))
	}
	return results, nil
}

// resolveTargets returns the invoice ids to allocate against, in strict
// FIFO order: oldest creation timestamp first, ties broken by ascending id.
// A nil list means every outstanding invoice of the customer.
func (a *creditAllocator) resolveTargets(ctx context.Context, tx pgx.Tx, customerID int64, targetInvoiceIDs []int64) ([]int64, error) {
	var rows pgx.Rows
	var err error
	if len(targetInvoiceIDs) == 0 {
		rows, err = tx.Query(ctx, `
			SELECT id FROM invoices
			WHERE customer_id = $1 AND status IN ('pending', 'partially_paid')
			ORDER BY created_at, id
		`, customerID)
	} else {
		rows, err = tx.Query(ctx, `
			SELECT id FROM invoices
			WHERE customer_id = $1 AND id = ANY($2)
			ORDER BY created_at, id
		`, customerID, targetInvoiceIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve allocation targets: %w", err)
	}
	defer rows.Close()

	var targets []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan allocation target: %w", err)
		}
		targets = append(targets, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocation targets: %w", err)
	}

	if len(targetInvoiceIDs) > 0 && len(targets) != len(targetInvoiceIDs) {
		return nil, validationErrorf("targets",
			"%d of %d target invoices not found for customer %d",
			len(targetInvoiceIDs)-len(targets), len(targetInvoiceIDs), customerID)
	}
	return targets, nil
}

func availableCredit(ctx context.Context, q rowQuerier, customerID int64, excludeInvoiceIDs []int64) (decimal.Decimal, error) {
	if excludeInvoiceIDs == nil {
		excludeInvoiceIDs = []int64{}
	}
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'debit' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE customer_id = $1
		  AND NOT (reference_type = 'invoice' AND reference_id = ANY($2))
	`, customerID, excludeInvoiceIDs).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to compute available credit for customer %d: %w", customerID, err)
	}

	balance = RoundMoney(balance)
	if balance.IsNegative() {
		return balance.Neg(), nil
	}
	return decimal.Zero, nil
}
