package ledger

import (
	"context"

	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/trading"
)

// TransactionScope runs a unit of work against the ledger store.
// Every repository handed to fn shares one serializable database transaction;
// the whole function is retried when the store reports a serialization
// conflict, so fn must not have side effects outside the repositories.
type TransactionScope interface {
	// Execute runs fn in a serializable transaction, retrying on conflicts.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error

	// ExecuteReadOnly runs fn in a read-only repeatable-read transaction.
	ExecuteReadOnly(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all repositories within a unit of work.
//
// Aggregate boundary notes:
//   - Transactions: LedgerTransaction is the aggregate root; its entries are
//     written with it and never updated.
//   - Entries: read-only view over the per-account entry chains, used to
//     compute sequence numbers and balances inside the same transaction.
//   - Outbox: events appended here commit or roll back with the state change.
type TransactionalRepositories interface {
	Accounts() ledger.AccountRepository
	Transactions() ledger.TransactionRepository
	Entries() ledger.EntryRepository
	Holds() ledger.HoldRepository
	IdempotencyKeys() ledger.IdempotencyRepository
	Orders() trading.OrderRepository
	Trades() trading.TradeRepository
	Settlements() trading.SettlementRepository
	Runs() reconciliation.RunRepository
	Audit() audit.Repository
	Outbox() shared.OutboxWriter
}

// ExecuteWithResult runs fn in scope and returns its value once the unit of work commits.
func ExecuteWithResult[T any](ctx context.Context, scope TransactionScope, fn func(repos TransactionalRepositories) (T, error)) (T, error) {
	var result T
	err := scope.Execute(ctx, func(repos TransactionalRepositories) error {
		v, err := fn(repos)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// ReadWithResult is ExecuteWithResult for read-only units of work.
func ReadWithResult[T any](ctx context.Context, scope TransactionScope, fn func(repos TransactionalRepositories) (T, error)) (T, error) {
	var result T
	err := scope.ExecuteReadOnly(ctx, func(repos TransactionalRepositories) error {
		v, err := fn(repos)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
