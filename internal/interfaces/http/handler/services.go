package handler

import (
	"context"

	"github.com/google/uuid"
	appaudit "github.com/tradeledger/backend/internal/application/audit"
	appevent "github.com/tradeledger/backend/internal/application/event"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	apprecon "github.com/tradeledger/backend/internal/application/reconciliation"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/trading"
)

// AccountService manages the account registry
type AccountService interface {
	OpenUserAccount(ctx context.Context, req appledger.OpenAccountRequest, actor audit.Actor) (*ledger.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, int64, error)
	Freeze(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error)
	Unfreeze(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error)
	Suspend(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error)
	Reinstate(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error)
	Close(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error)
}

// BalanceReader derives balances from the entry chain
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (ledger.BalanceView, error)
	VerifyChain(ctx context.Context, accountID uuid.UUID) (*appledger.ChainReport, error)
}

// LedgerQueries reads committed transactions and entries
type LedgerQueries interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.LedgerTransaction, error)
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.LedgerTransaction, int64, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, afterSequence int64, limit int) (*appledger.EntryPage, error)
}

// PostingService commits balanced ledger transactions
type PostingService interface {
	Deposit(ctx context.Context, req appledger.ExternalMovementRequest, actor audit.Actor) (*appledger.PostingResult, error)
	Withdraw(ctx context.Context, req appledger.ExternalMovementRequest, actor audit.Actor) (*appledger.PostingResult, error)
	Transfer(ctx context.Context, req appledger.TransferRequest, actor audit.Actor) (*appledger.PostingResult, error)
	Reverse(ctx context.Context, txID uuid.UUID, reason string, actor audit.Actor) (*appledger.PostingResult, error)
	Adjust(ctx context.Context, params ledger.PostingParams, reason string, actor audit.Actor) (*appledger.PostingResult, error)
}

// OrderService drives the order and trade lifecycle
type OrderService interface {
	PlaceOrder(ctx context.Context, params trading.OrderParams, actor audit.Actor) (*trading.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*trading.Order, error)
	AcceptOrder(ctx context.Context, id uuid.UUID, actor audit.Actor) (*trading.Order, error)
	RejectOrder(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*trading.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*trading.Order, error)
	RecordTrade(ctx context.Context, req apptrading.RecordTradeRequest, actor audit.Actor) (*apptrading.TradeResult, error)
}

// SettlementService settles and rolls back trades
type SettlementService interface {
	GetSettlement(ctx context.Context, id uuid.UUID) (*trading.Settlement, error)
	SettleTrade(ctx context.Context, settlementID uuid.UUID, actor audit.Actor) (*trading.Settlement, error)
	RollBackSettlement(ctx context.Context, settlementID uuid.UUID, reason string, actor audit.Actor) (*trading.Settlement, error)
}

// Reconciler runs and reports reconciliation runs
type Reconciler interface {
	Reconcile(ctx context.Context, t reconciliation.RunType, w reconciliation.Window, sourceNames []string) (*apprecon.Result, error)
	GetRun(ctx context.Context, id uuid.UUID) (*reconciliation.Run, error)
	ListRuns(ctx context.Context, filter reconciliation.RunFilter) ([]reconciliation.Run, int64, error)
	ReportLink(ctx context.Context, id uuid.UUID) (*apprecon.ReportLink, error)
	Sources() []string
}

// AuditLog queries the audit trail
type AuditLog interface {
	List(ctx context.Context, filter audit.Filter) (*appaudit.Page, error)
}

// OutboxAdmin inspects event delivery and requeues dead letters
type OutboxAdmin interface {
	Stats(ctx context.Context) (*appevent.OutboxStats, error)
	DeadLetters(ctx context.Context, limit int) ([]appevent.OutboxEntryView, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*appevent.OutboxEntryView, error)
	Retry(ctx context.Context, id uuid.UUID) (*appevent.OutboxEntryView, error)
	RetryAll(ctx context.Context) (int, error)
}

var (
	_ AccountService    = (*appledger.AccountService)(nil)
	_ BalanceReader     = (*appledger.BalanceService)(nil)
	_ LedgerQueries     = (*appledger.QueryService)(nil)
	_ PostingService    = (*appledger.PostingService)(nil)
	_ OrderService      = (*apptrading.OrderService)(nil)
	_ SettlementService = (*apptrading.SettlementService)(nil)
	_ Reconciler        = (*apprecon.Engine)(nil)
	_ AuditLog          = (*appaudit.Service)(nil)
	_ OutboxAdmin       = (*appevent.OutboxService)(nil)
)
