package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// AccountFilter narrows account listings
type AccountFilter struct {
	shared.Filter
	OwnerID  *uuid.UUID
	Type     AccountType
	Status   AccountStatus
	Currency valueobject.Currency
}

// TransactionFilter narrows transaction listings
type TransactionFilter struct {
	shared.Filter
	AccountID *uuid.UUID
	Type      TransactionType
	Status    TransactionStatus
	Reference *Reference
	From      *time.Time
	To        *time.Time
}

// AccountRepository defines the interface for account persistence
type AccountRepository interface {
	// FindByID finds an account by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByIDs loads several accounts at once; missing IDs are absent from the map
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Account, error)

	// FindByCode finds an account by its unique code
	FindByCode(ctx context.Context, code string) (*Account, error)

	// FindAll lists accounts with filtering and returns the total count
	FindAll(ctx context.Context, filter AccountFilter) ([]Account, int64, error)

	// ListAfter pages accounts in ID order starting after the given ID
	ListAfter(ctx context.Context, after uuid.UUID, limit int) ([]Account, error)

	// Create inserts a new account; a duplicate code returns ErrAccountExists
	Create(ctx context.Context, account *Account) error

	// SaveWithLock updates status fields with an optimistic version check
	SaveWithLock(ctx context.Context, account *Account) error
}

// TransactionRepository persists transactions and their entries. Entries are append-only.
type TransactionRepository interface {
	// Create writes the transaction row and all of its entries
	Create(ctx context.Context, txn *LedgerTransaction) error

	// FindByID loads a transaction with its entries
	FindByID(ctx context.Context, id uuid.UUID) (*LedgerTransaction, error)

	// FindByReference lists committed or reversed transactions caused by an entity
	FindByReference(ctx context.Context, ref Reference) ([]LedgerTransaction, error)

	// FindAll lists transactions without entries
	FindAll(ctx context.Context, filter TransactionFilter) ([]LedgerTransaction, int64, error)

	// MarkReversed flips a committed transaction to REVERSED
	MarkReversed(ctx context.Context, txn *LedgerTransaction) error
}

// EntryRepository reads the per-account entry chains
type EntryRepository interface {
	// Head returns the latest entry position of an account
	Head(ctx context.Context, accountID uuid.UUID) (AccountHead, error)

	// Heads returns the latest positions of several accounts; accounts without entries get a zero head
	Heads(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]AccountHead, error)

	// HeadAsOf returns the latest position created at or before cutoff
	HeadAsOf(ctx context.Context, accountID uuid.UUID, cutoff time.Time) (AccountHead, error)

	// ListAfter returns up to limit entries with sequence greater than afterSequence, ascending
	ListAfter(ctx context.Context, accountID uuid.UUID, afterSequence int64, limit int) ([]LedgerEntry, error)
}

// HoldRepository defines the interface for escrow hold persistence
type HoldRepository interface {
	// Create inserts a new hold
	Create(ctx context.Context, hold *EscrowHold) error

	// SaveWithLock updates remaining and status with an optimistic version check
	SaveWithLock(ctx context.Context, hold *EscrowHold) error

	// FindByID finds a hold by ID
	FindByID(ctx context.Context, id uuid.UUID) (*EscrowHold, error)

	// FindActiveByReference finds the active hold locked for an entity, or ErrHoldNotFound
	FindActiveByReference(ctx context.Context, ref Reference) (*EscrowHold, error)

	// SumActiveByWallet sums Remaining over active holds of a wallet
	SumActiveByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)

	// CountActiveByAccount counts active holds where the account is wallet or escrow
	CountActiveByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// IdempotencyRepository stores idempotency keys
type IdempotencyRepository interface {
	// Find returns the record for key, or nil when the key is unknown
	Find(ctx context.Context, key string) (*IdempotencyRecord, error)

	// Reserve inserts the record unless the key exists; false means another writer holds it
	Reserve(ctx context.Context, record *IdempotencyRecord) (bool, error)
}

// SnapshotStore caches balance snapshots outside the database. A snapshot is
// only a starting point; balances are always re-derived from entries after it.
type SnapshotStore interface {
	// Get returns the cached snapshot, or nil when none is cached
	Get(ctx context.Context, accountID uuid.UUID) (*BalanceSnapshot, error)

	// Put caches a snapshot
	Put(ctx context.Context, snapshot BalanceSnapshot) error

	// Invalidate drops the snapshots of the given accounts
	Invalidate(ctx context.Context, accountIDs ...uuid.UUID) error
}
