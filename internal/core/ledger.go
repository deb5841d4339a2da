package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerService is the single source of truth for customer balances.
type LedgerService interface {
	// Append persists one immutable entry in its own transaction.
	Append(ctx context.Context, entry LedgerEntry) (*LedgerEntry, error)
	// AppendTx persists one immutable entry inside the caller's transaction.
	// Use when the append must commit atomically with other writes.
	AppendTx(ctx context.Context, tx pgx.Tx, entry LedgerEntry) (*LedgerEntry, error)
	// GetBalance returns the signed sum over all of the customer's entries.
	// Positive = customer owes, negative = customer holds credit.
	GetBalance(ctx context.Context, customerID int64) (decimal.Decimal, error)
	// Entries returns the customer's entries, newest first.
	Entries(ctx context.Context, customerID int64, limit int) ([]LedgerEntry, error)
}

type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// nullableTime maps the zero time to NULL so the database default applies.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (l *LedgerStore) Append(ctx context.Context, entry LedgerEntry) (*LedgerEntry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stored, err := l.AppendTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("ledger append", fmt.Errorf("failed to commit ledger append: %w", err))
	}
	return stored, nil
}

// AppendTx validates the entry, locks the customer row to serialize
// concurrent appends for the same customer, computes the running balance
// from the latest stored entry, and inserts. The caller owns the
// transaction boundary.
func (l *LedgerStore) AppendTx(ctx context.Context, tx pgx.Tx, entry LedgerEntry) (*LedgerEntry, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	if err := lockCustomer(ctx, tx, entry.CustomerID); err != nil {
		return nil, err
	}

	before, err := latestBalance(ctx, tx, entry.CustomerID)
	if err != nil {
		return nil, err
	}

	amount := RoundMoney(entry.Amount)
	after := before.Add(amount)
	if entry.EntryType == EntryCredit {
		after = before.Sub(amount)
	}

	entry.Amount = amount
	entry.BalanceBefore = before
	entry.BalanceAfter = after

	var key *string
	if entry.IdempotencyKey != "" {
		key = &entry.IdempotencyKey
	}
	var refID *int64
	if entry.Reference.ID != 0 {
		refID = &entry.Reference.ID
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries
			(customer_id, entry_type, transaction_type, amount, description,
			 reference_type, reference_id, balance_before, balance_after,
			 idempotency_key, occurred_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()), $12)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, occurred_at
	`, entry.CustomerID, string(entry.EntryType), string(entry.TransactionType),
		amount, entry.Description, entry.Reference.Type, refID, before, after,
		key, nullableTime(entry.OccurredAt), entry.CreatedBy,
	).Scan(&entry.ID, &entry.OccurredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("duplicate ledger entry: idempotency key %s already exists", entry.IdempotencyKey)
		}
		return nil, wrapConcurrency("ledger append", fmt.Errorf("failed to insert ledger entry: %w", err))
	}

	return &entry, nil
}

func (l *LedgerStore) GetBalance(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return ledgerBalance(ctx, l.pool, customerID)
}

// GetBalanceTx reads the authoritative balance inside the caller's
// transaction, after any locks the caller holds.
func (l *LedgerStore) GetBalanceTx(ctx context.Context, tx pgx.Tx, customerID int64) (decimal.Decimal, error) {
	return ledgerBalance(ctx, tx, customerID)
}

func (l *LedgerStore) Entries(ctx context.Context, customerID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, customer_id, entry_type, transaction_type, amount, description,
		       reference_type, COALESCE(reference_id, 0), balance_before, balance_after,
		       COALESCE(idempotency_key, ''), occurred_at, created_by
		FROM ledger_entries
		WHERE customer_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.CustomerID, &e.EntryType, &e.TransactionType, &e.Amount, &e.Description,
			&e.Reference.Type, &e.Reference.ID, &e.BalanceBefore, &e.BalanceAfter,
			&e.IdempotencyKey, &e.OccurredAt, &e.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// validateEntry enforces the closed enums and the amount rules at the
// store boundary. Negative amounts are always rejected; zero is allowed
// only for adjustment audit markers.
func validateEntry(entry LedgerEntry) error {
	if entry.CustomerID == 0 {
		return validationErrorf("customer_id", "must be set")
	}
	if !entry.EntryType.valid() {
		return validationErrorf("entry_type", "unrecognized value %q", string(entry.EntryType))
	}
	if !entry.TransactionType.valid() {
		return validationErrorf("transaction_type", "unrecognized value %q", string(entry.TransactionType))
	}
	if entry.Amount.IsNegative() {
		return validationErrorf("amount", "must be positive, got %s", entry.Amount)
	}
	if entry.Amount.IsZero() && entry.TransactionType != TransactionAdjustment {
		return validationErrorf("amount", "zero amount is only allowed for adjustment audit markers")
	}
	return nil
}

// lockCustomer takes the per-customer row lock that serializes every
// mutating operation on one customer's money.
func lockCustomer(ctx context.Context, tx pgx.Tx, customerID int64) error {
	var id int64
	err := tx.QueryRow(ctx, "SELECT id FROM customers WHERE id = $1 FOR UPDATE", customerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return validationErrorf("customer_id", "customer %d not found", customerID)
		}
		return wrapConcurrency("customer lock", fmt.Errorf("failed to lock customer %d: %w", customerID, err))
	}
	return nil
}

// lockInvoice takes the invoice row lock. Always acquired after the
// customer lock, never before.
func lockInvoice(ctx context.Context, tx pgx.Tx, invoiceID int64) error {
	var id int64
	err := tx.QueryRow(ctx, "SELECT id FROM invoices WHERE id = $1 FOR UPDATE", invoiceID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return validationErrorf("invoice_id", "invoice %d not found", invoiceID)
		}
		return wrapConcurrency("invoice lock", fmt.Errorf("failed to lock invoice %d: %w", invoiceID, err))
	}
	return nil
}

// latestBalance reads the running balance off the newest entry; a customer
// with no entries starts at zero.
func latestBalance(ctx context.Context, tx pgx.Tx, customerID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT balance_after FROM ledger_entries
		WHERE customer_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, customerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read latest balance for customer %d: %w", customerID, err)
	}
	return balance, nil
}

// ledgerBalance is the authoritative signed sum over all entries.
func ledgerBalance(ctx context.Context, q rowQuerier, customerID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'debit' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE customer_id = $1
	`, customerID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger for customer %d: %w", customerID, err)
	}
	return RoundMoney(balance), nil
}
