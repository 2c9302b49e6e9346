package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/tradeledger/backend/internal/domain/shared"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassFatal},
		{"pgx serialization failure", &pgconn.PgError{Code: "40001"}, ErrorClassRetryable},
		{"pgx deadlock", &pgconn.PgError{Code: "40P01"}, ErrorClassRetryable},
		{"wrapped pgx serialization failure", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), ErrorClassRetryable},
		{"pq serialization failure", &pq.Error{Code: "40001"}, ErrorClassRetryable},
		{"pq deadlock", &pq.Error{Code: "40P01"}, ErrorClassRetryable},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, ErrorClassTimeout},
		{"statement timeout", &pq.Error{Code: "57014"}, ErrorClassTimeout},
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrorClassFatal},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, ErrorClassRetryable},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, ErrorClassRetryable},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, ErrorClassFatal},
		{"version conflict", shared.ErrConcurrencyConflict.WithDetail("account_id", "a"), ErrorClassRetryable},
		{"retries exhausted", &retriesExhaustedError{attempts: 6, last: shared.ErrConcurrencyConflict}, ErrorClassFatal},
		{"context canceled", fmt.Errorf("begin: %w", context.Canceled), ErrorClassFatal},
		{"deadline exceeded", context.DeadlineExceeded, ErrorClassFatal},
		{"domain validation", shared.ErrInsufficientBalance, ErrorClassFatal},
		{"plain error", errors.New("boom"), ErrorClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "fatal", ErrorClassFatal.String())
	assert.Equal(t, "retryable", ErrorClassRetryable.String())
	assert.Equal(t, "timeout", ErrorClassTimeout.String())
}

func TestRetriesExhaustedError(t *testing.T) {
	last := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	err := &retriesExhaustedError{attempts: 3, last: last}

	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "40001", pgErr.Code)
	assert.Contains(t, err.Error(), "after 3 attempts")

	de, ok := shared.AsDomainError(err)
	assert.True(t, ok)
	assert.Equal(t, "CONCURRENCY_CONFLICT", de.Code)
	assert.Equal(t, "3", de.Details["attempts"])
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pgx", &pgconn.PgError{Code: "23505"}, true},
		{"pq", &pq.Error{Code: "23505"}, true},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"plain", errors.New("duplicate"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}
