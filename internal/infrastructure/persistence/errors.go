package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// ErrorClass tells the executor what to do with a failed unit of work
type ErrorClass int

const (
	// ErrorClassFatal propagates immediately
	ErrorClassFatal ErrorClass = iota
	// ErrorClassRetryable re-runs the whole unit of work
	ErrorClassRetryable
	// ErrorClassTimeout is a lock or statement timeout; surfaced, never retried
	ErrorClassTimeout
)

// String returns the class name used in logs and metrics
func (c ErrorClass) String() string {
	switch c {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassTimeout:
		return "timeout"
	default:
		return "fatal"
	}
}

// PostgreSQL SQLSTATE codes the executor cares about
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
	sqlStateUniqueViolation      = "23505"
)

// ErrRetriesExhausted is returned once the executor gives up on a conflicting unit of work
var ErrRetriesExhausted = shared.NewDomainErrorOfKind(shared.ErrorKindConcurrency, "CONCURRENCY_CONFLICT", "Transaction retries exhausted")

// ClassifyError maps a store error to an ErrorClass. Serialization failures and
// deadlocks from either postgres driver, SQLite busy/locked and optimistic
// version conflicts are retryable.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassFatal
	}

	switch sqlState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return ErrorClassRetryable
	case sqlStateLockNotAvailable, sqlStateQueryCanceled:
		return ErrorClassTimeout
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return ErrorClassRetryable
		}
	}

	var exhausted *retriesExhaustedError
	if errors.As(err, &exhausted) {
		return ErrorClassFatal
	}
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		return ErrorClassRetryable
	}
	return ErrorClassFatal
}

// retriesExhaustedError keeps the last conflict reachable through errors.Is/As
type retriesExhaustedError struct {
	attempts int
	last     error
}

func (e *retriesExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetriesExhausted.Message, e.attempts, e.last)
}

func (e *retriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted.WithDetail("attempts", strconv.Itoa(e.attempts)), e.last}
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	if sqlState(err) == sqlStateUniqueViolation {
		return true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// sqlState extracts the SQLSTATE from pgx or lib/pq errors
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
