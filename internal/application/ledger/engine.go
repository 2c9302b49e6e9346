package ledger

import (
	"context"
	"fmt"

	"github.com/tradeledger/backend/internal/domain/ledger"
)

// Engine validates a posting and writes the transaction with its sequenced
// entries. It never opens or commits a database transaction; it works on the
// repositories of the caller's unit of work.
type Engine struct{}

// NewEngine creates a new Engine
func NewEngine() *Engine {
	return &Engine{}
}

// PostTransaction validates params against stored state and writes a
// COMMITTED transaction. Balances and sequence numbers are computed from the
// latest entries read inside the same unit of work.
func (e *Engine) PostTransaction(ctx context.Context, repos TransactionalRepositories, params ledger.PostingParams) (*ledger.LedgerTransaction, error) {
	txn, err := ledger.NewLedgerTransaction(params)
	if err != nil {
		return nil, err
	}

	ids := params.AccountIDs()
	accounts, err := repos.Accounts().FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	if err := params.ValidateAccounts(accounts); err != nil {
		return nil, err
	}

	heads, err := repos.Entries().Heads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read account heads: %w", err)
	}
	entries, err := ledger.SequenceEntries(txn.ID, params, accounts, heads)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(entries); err != nil {
		return nil, err
	}

	if err := repos.Transactions().Create(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}
