package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// driftTolerance is the largest cache/ledger difference treated as noise.
var driftTolerance = decimal.NewFromFloat(0.01)

// ReconcileSummary reports one ReconcileAll pass.
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
}

// Reconciler heals the cached customer balance from the ledger, the single
// source of truth. Corrections are recorded, never silent, and the pass is
// idempotent: a second run over a consistent database writes nothing but
// sync timestamps.
type Reconciler interface {
	// Reconcile checks one customer and returns the correction it wrote,
	// or nil when cache and ledger already agree.
	Reconcile(ctx context.Context, customerID int64) (*BalanceCorrection, error)
	// ReconcileAll walks every customer, most recently active first, one
	// short transaction each, throttled so live traffic keeps priority.
	ReconcileAll(ctx context.Context) (*ReconcileSummary, error)
}

type reconciler struct {
	pool    *pgxpool.Pool
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewReconciler builds a reconciler that checks at most perSecond customers
// per second during a full pass.
func NewReconciler(pool *pgxpool.Pool, perSecond float64, log zerolog.Logger) Reconciler {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &reconciler{
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
}

func (r *reconciler) Reconcile(ctx context.Context, customerID int64) (*BalanceCorrection, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockCustomer(ctx, tx, customerID); err != nil {
		return nil, err
	}

	var cached decimal.Decimal
	if err := tx.QueryRow(ctx, "SELECT balance FROM customers WHERE id = $1", customerID).Scan(&cached); err != nil {
		return nil, fmt.Errorf("failed to read cached balance for customer %d: %w", customerID, err)
	}

	truth, err := ledgerBalance(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	delta := truth.Sub(cached)
	var correction *BalanceCorrection

	if delta.Abs().GreaterThan(driftTolerance) {
		correction = &BalanceCorrection{
			CustomerID:    customerID,
			CachedBalance: cached,
			LedgerBalance: truth,
			Delta:         delta,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO balance_corrections (customer_id, cached_balance, ledger_balance, delta)
			VALUES ($1, $2, $3, $4)
			RETURNING id, corrected_at
		`, customerID, cached, truth, delta).Scan(&correction.ID, &correction.CorrectedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to record balance correction for customer %d: %w", customerID, err)
		}

		_, err = tx.Exec(ctx,
			"UPDATE customers SET balance = $1, balance_synced_at = NOW() WHERE id = $2",
			truth, customerID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to correct balance for customer %d: %w", customerID, err)
		}
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE customers SET balance_synced_at = NOW() WHERE id = $1",
			customerID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to bump sync timestamp for customer %d: %w", customerID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapConcurrency("reconcile", fmt.Errorf("failed to commit reconciliation: %w", err))
	}

	if correction != nil {
		// Consistency warning: self-healed, logged for audit, never
		// surfaced to the caller as a failure.
		r.log.Warn().
			Int64("customer_id", customerID).
			Str("cached_balance", cached.String()).
			Str("ledger_balance", truth.String()).
			Str("delta", delta.String()).
			Int64("correction_id", correction.ID).
			Msg("balance cache drifted from ledger, corrected")
	}
	return correction, nil
}

func (r *reconciler) ReconcileAll(ctx context.Context) (*ReconcileSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id
		FROM customers c
		LEFT JOIN LATERAL (
			SELECT occurred_at FROM ledger_entries
			WHERE customer_id = c.id
			ORDER BY id DESC LIMIT 1
		) le ON TRUE
		ORDER BY le.occurred_at DESC NULLS LAST, c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers for reconciliation: %w", err)
	}

	var customerIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan customer id: %w", err)
		}
		customerIDs = append(customerIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}

	summary := &ReconcileSummary{}
	for _, id := range customerIDs {
		if err := r.limiter.Wait(ctx); err != nil {
			return summary, err
		}
		correction, err := r.Reconcile(ctx, id)
		if err != nil {
			return summary, fmt.Errorf("reconciliation failed at customer %d: %w", id, err)
		}
		summary.Checked++
		if correction != nil {
			summary.Corrected++
		}
	}

	r.log.Info().
		Int("checked", summary.Checked).
		Int("corrected", summary.Corrected).
		Msg("reconciliation pass complete")
	return summary, nil
}
