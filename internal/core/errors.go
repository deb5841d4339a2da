package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ValidationError rejects an operation before any write happens. The input
// can be corrected and the operation retried as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConcurrencyError signals a lock or serialization conflict. The caller
// must retry the entire operation from scratch; nothing was committed.
type ConcurrencyError struct {
	Op  string
	Err error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: concurrent conflict, retry the operation: %v", e.Op, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// SettlementError signals that a collaborator refused part of a settlement.
// The whole transaction was rolled back; Item names the failing piece.
type SettlementError struct {
	Item string
	Err  error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed on %s: %v", e.Item, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Postgres SQLSTATE codes that indicate a retryable concurrency conflict.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// wrapConcurrency converts lock/serialization failures into a
// ConcurrencyError and leaves everything else untouched.
func wrapConcurrency(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return &ConcurrencyError{Op: op, Err: err}
		}
	}
	return err
}
