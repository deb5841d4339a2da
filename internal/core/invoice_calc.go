package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// BalanceBreakdown is the result of the single authoritative
// remaining-balance computation for one invoice.
type BalanceBreakdown struct {
	InvoiceID     int64           `json:"invoice_id"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	TotalPayments decimal.Decimal `json:"total_payments"`
	TotalReturns  decimal.Decimal `json:"total_returns"`
	Remaining     decimal.Decimal `json:"remaining_balance"`
	Status        InvoiceStatus   `json:"status"`
}

// BalanceCalculator owns the one formula every component uses:
//
//	remaining = max(0, round(grand_total − Σpayments − Σaccepted returns, 2))
//
// No other code path derives an invoice's remaining balance or status.
type BalanceCalculator interface {
	Compute(ctx context.Context, invoiceID int64) (*BalanceBreakdown, error)
	ComputeTx(ctx context.Context, tx pgx.Tx, invoiceID int64) (*BalanceBreakdown, error)
	// Persist recomputes and writes remaining_balance + status.
	Persist(ctx context.Context, invoiceID int64) (*BalanceBreakdown, error)
	PersistTx(ctx context.Context, tx pgx.Tx, invoiceID int64) (*BalanceBreakdown, error)
}

type balanceCalculator struct {
	pool *pgxpool.Pool
}

func NewBalanceCalculator(pool *pgxpool.Pool) BalanceCalculator {
	return &balanceCalculator{pool: pool}
}

func (c *balanceCalculator) Compute(ctx context.Context, invoiceID int64) (*BalanceBreakdown, error) {
	return computeBalance(ctx, c.pool, invoiceID)
}

func (c *balanceCalculator) ComputeTx(ctx context.Context, tx pgx.Tx, invoiceID int64) (*BalanceBreakdown, error) {
	return computeBalance(ctx, tx, invoiceID)
}

func (c *balanceCalculator) Persist(ctx context.Context, invoiceID int64) (*BalanceBreakdown, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	bb, err := c.PersistTx(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("invoice persist", fmt.Errorf("failed to commit invoice balance: %w", err))
	}
	return bb, nil
}

func (c *balanceCalculator) PersistTx(ctx context.Context, tx pgx.Tx, invoiceID int64) (*BalanceBreakdown, error) {
	bb, err := computeBalance(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE invoices SET remaining_balance = $1, status = $2 WHERE id = $3
	`, bb.Remaining, string(bb.Status), invoiceID)
	if err != nil {
		return nil, wrapConcurrency("invoice persist", fmt.Errorf("failed to persist invoice %d balance: %w", invoiceID, err))
	}
	return bb, nil
}

type extendedQuerier interface {
	rowQuerier
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func computeBalance(ctx context.Context, q extendedQuerier, invoiceID int64) (*BalanceBreakdown, error) {
	bb := &BalanceBreakdown{InvoiceID: invoiceID}

	err := q.QueryRow(ctx, "SELECT grand_total FROM invoices WHERE id = $1", invoiceID).Scan(&bb.GrandTotal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("invoice_id", "invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}

	err = q.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1", invoiceID,
	).Scan(&bb.TotalPayments)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payments for invoice %d: %w", invoiceID, err)
	}

	err = q.QueryRow(ctx, `
		SELECT COALESCE(SUM(ri.total_price), 0)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.original_invoice_id = $1 AND r.status = 'accepted'
	`, invoiceID).Scan(&bb.TotalReturns)
	if err != nil {
		return nil, fmt.Errorf("failed to sum returns for invoice %d: %w", invoiceID, err)
	}

	bb.TotalPayments = RoundMoney(bb.TotalPayments)
	bb.TotalReturns = RoundMoney(bb.TotalReturns)
	bb.Remaining = remainingBalance(bb.GrandTotal, bb.TotalPayments, bb.TotalReturns)
	bb.Status = statusFor(bb.Remaining, bb.TotalPayments, bb.TotalReturns)
	return bb, nil
}

// remainingBalance is the formula itself, kept pure for testability.
func remainingBalance(grandTotal, totalPayments, totalReturns decimal.Decimal) decimal.Decimal {
	return clampNonNegative(RoundMoney(grandTotal.Sub(totalPayments).Sub(totalReturns)))
}

// statusFor derives the invoice status from the remaining balance. This is
// the only place a status value is produced.
func statusFor(remaining, totalPayments, totalReturns decimal.Decimal) InvoiceStatus {
	if remaining.LessThanOrEqual(paidTolerance) {
		return StatusPaid
	}
	if totalPayments.IsPositive() || totalReturns.IsPositive() {
		return StatusPartiallyPaid
	}
	return StatusPending
}
