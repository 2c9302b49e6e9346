package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DefaultEntryPageSize is used when a caller asks for no limit
const DefaultEntryPageSize = 100

// EntryPage is a slice of one account's entry chain. NextAfter is the
// sequence to pass back for the following page; zero means the chain ended.
type EntryPage struct {
	AccountID uuid.UUID            `json:"account_id"`
	Entries   []ledger.LedgerEntry `json:"entries"`
	NextAfter int64                `json:"next_after,omitempty"`
}

// QueryService answers read-only questions about transactions and entries
type QueryService struct {
	scope  TransactionScope
	logger *zap.Logger
}

// NewQueryService creates a new QueryService
func NewQueryService(scope TransactionScope, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{scope: scope, logger: logger}
}

// GetTransaction loads a transaction with all of its entries
func (s *QueryService) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.LedgerTransaction, error) {
	return ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*ledger.LedgerTransaction, error) {
		return repos.Transactions().FindByID(ctx, id)
	})
}

// ListTransactions lists transactions without their entries, newest first
func (s *QueryService) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.LedgerTransaction, int64, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, 0, shared.NewDomainError("INVALID_TIME_RANGE", "From must be before to")
	}
	if filter.OrderBy == "" {
		filter.OrderBy = "created_at"
	}
	if filter.OrderDir == "" {
		filter.OrderDir = "desc"
	}
	filter.Filter = filter.Filter.Normalize()

	type listing struct {
		txns  []ledger.LedgerTransaction
		total int64
	}
	result, err := ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (listing, error) {
		txns, total, err := repos.Transactions().FindAll(ctx, filter)
		return listing{txns: txns, total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return result.txns, result.total, nil
}

// ListEntries pages an account's entries in sequence order, starting after afterSequence
func (s *QueryService) ListEntries(ctx context.Context, accountID uuid.UUID, afterSequence int64, limit int) (*EntryPage, error) {
	if afterSequence < 0 {
		return nil, shared.NewDomainError("INVALID_SEQUENCE", "Sequence cursor cannot be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultEntryPageSize
	case limit > shared.MaxPageSize:
		limit = shared.MaxPageSize
	}

	return ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*EntryPage, error) {
		if _, err := repos.Accounts().FindByID(ctx, accountID); err != nil {
			return nil, err
		}
		entries, err := repos.Entries().ListAfter(ctx, accountID, afterSequence, limit)
		if err != nil {
			return nil, err
		}
		page := &EntryPage{AccountID: accountID, Entries: entries}
		if len(entries) == limit {
			page.NextAfter = entries[len(entries)-1].Sequence
		}
		return page, nil
	})
}
