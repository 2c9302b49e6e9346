package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/ledger"
)

// Resolution is the outcome of an idempotency lookup. Either Cached holds the
// transaction a previous request committed, or the key is now reserved for
// the current unit of work and the caller must proceed with the posting.
type Resolution struct {
	Cached *ledger.LedgerTransaction
	Record *ledger.IdempotencyRecord
}

// IsCached reports whether the request was already handled
func (r Resolution) IsCached() bool {
	return r.Cached != nil
}

// Cached returns a resolution for an already committed request
func Cached(txn *ledger.LedgerTransaction) Resolution {
	return Resolution{Cached: txn}
}

// Proceed returns a resolution holding a fresh reservation
func Proceed(record *ledger.IdempotencyRecord) Resolution {
	return Resolution{Record: record}
}

// IdempotencyGuard ties caller-supplied idempotency keys to committed transactions
type IdempotencyGuard struct{}

// NewIdempotencyGuard creates a new IdempotencyGuard
func NewIdempotencyGuard() *IdempotencyGuard {
	return &IdempotencyGuard{}
}

// Resolve looks up key inside the unit of work. A known key resolves to the
// transaction it produced, unless the stored fingerprint differs, which is
// IDEMPOTENCY_KEY_REUSED. An unknown key is reserved for txID with
// insert-or-fail; losing that race is IDEMPOTENCY_CONFLICT.
func (g *IdempotencyGuard) Resolve(ctx context.Context, repos TransactionalRepositories, key, fingerprint string, txID uuid.UUID) (Resolution, error) {
	if err := ledger.ValidateIdempotencyKey(key); err != nil {
		return Resolution{}, err
	}

	record, err := repos.IdempotencyKeys().Find(ctx, key)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if record != nil {
		return g.cached(ctx, repos, record, fingerprint)
	}

	record = ledger.NewIdempotencyRecord(key, txID, fingerprint)
	reserved, err := repos.IdempotencyKeys().Reserve(ctx, record)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if !reserved {
		return Resolution{}, ledger.ErrIdempotencyConflict.WithDetail("idempotency_key", key)
	}
	return Proceed(record), nil
}

// Lookup resolves a key that another writer may have committed, without reserving it
func (g *IdempotencyGuard) Lookup(ctx context.Context, repos TransactionalRepositories, key, fingerprint string) (Resolution, error) {
	record, err := repos.IdempotencyKeys().Find(ctx, key)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if record == nil {
		return Resolution{}, ledger.ErrIdempotencyConflict.WithDetail("idempotency_key", key)
	}
	return g.cached(ctx, repos, record, fingerprint)
}

func (g *IdempotencyGuard) cached(ctx context.Context, repos TransactionalRepositories, record *ledger.IdempotencyRecord, fingerprint string) (Resolution, error) {
	if !record.Matches(fingerprint) {
		return Resolution{}, ledger.ErrIdempotencyKeyReuse.WithDetail("idempotency_key", record.Key)
	}
	txn, err := repos.Transactions().FindByID(ctx, record.TransactionID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return Resolution{}, ledger.ErrIdempotencyConflict.
			WithDetail("idempotency_key", record.Key).
			WithDetail("transaction_id", record.TransactionID.String())
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load cached transaction: %w", err)
	}
	return Cached(txn), nil
}
