package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CashRegisterService records physical cash moving over the counter.
// Cash-settled returns go through here and never touch the customer
// ledger: the customer walked away with banknotes, not store credit.
type CashRegisterService interface {
	RecordCashOutTx(ctx context.Context, tx pgx.Tx, amount decimal.Decimal, reason string, ref Reference) (int64, error)
	RecordCashInTx(ctx context.Context, tx pgx.Tx, amount decimal.Decimal, reason string, ref Reference) (int64, error)
	// DayTotal returns today's net cash position (in − out).
	DayTotal(ctx context.Context) (decimal.Decimal, error)
}

type cashRegisterService struct {
	pool *pgxpool.Pool
}

func NewCashRegisterService(pool *pgxpool.Pool) CashRegisterService {
	return &cashRegisterService{pool: pool}
}

func (s *cashRegisterService) RecordCashOutTx(ctx context.Context, tx pgx.Tx, amount decimal.Decimal, reason string, ref Reference) (int64, error) {
	return record(ctx, tx, "cash_out", amount, reason, ref)
}

func (s *cashRegisterService) RecordCashInTx(ctx context.Context, tx pgx.Tx, amount decimal.Decimal, reason string, ref Reference) (int64, error) {
	return record(ctx, tx, "cash_in", amount, reason, ref)
}

func record(ctx context.Context, tx pgx.Tx, entryType string, amount decimal.Decimal, reason string, ref Reference) (int64, error) {
	amount = RoundMoney(amount)
	if !amount.IsPositive() {
		return 0, validationErrorf("amount", "cash register amount must be positive, got %s", amount)
	}

	var refID *int64
	if ref.ID != 0 {
		refID = &ref.ID
	}
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO cash_register_entries (entry_type, amount, reason, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entryType, amount, reason, ref.Type, refID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record %s of %s: %w", entryType, amount, err)
	}
	return id, nil
}

func (s *cashRegisterService) DayTotal(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'cash_in' THEN amount ELSE -amount END), 0)
		FROM cash_register_entries
		WHERE created_at::date = CURRENT_DATE
	`).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute day total: %w", err)
	}
	return RoundMoney(total), nil
}
