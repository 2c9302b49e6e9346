package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// SettlementConfig bounds automatic settlement retries
type SettlementConfig struct {
	MaxAttempts int
	BatchSize   int
}

// DefaultSettlementConfig returns the default settlement settings
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{MaxAttempts: 5, BatchSize: 100}
}

// BatchResult summarizes a settlement sweep
type BatchResult struct {
	Settled int
	Failed  int
	Errors  map[uuid.UUID]string
}

// SettlementService turns recorded trades into ledger postings. Each attempt
// commits the posting together with the settlement, trade and order updates.
type SettlementService struct {
	scope    appledger.TransactionScope
	postings *appledger.PostingService
	metrics  *telemetry.LedgerMetrics
	config   SettlementConfig
	logger   *zap.Logger
}

// NewSettlementService creates a new SettlementService. metrics may be nil.
func NewSettlementService(scope appledger.TransactionScope, postings *appledger.PostingService, metrics *telemetry.LedgerMetrics, config SettlementConfig, logger *zap.Logger) *SettlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultSettlementConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &SettlementService{
		scope:    scope,
		postings: postings,
		metrics:  metrics,
		config:   config,
		logger:   logger,
	}
}

// SettleTrade settles one trade. The buyer pays notional plus fee, from the
// order's escrow hold when one is active and from the wallet otherwise; the
// seller receives the notional and the fee goes to fee collection. Settling a
// completed settlement again returns it unchanged.
func (s *SettlementService) SettleTrade(ctx context.Context, settlementID uuid.UUID, actor audit.Actor) (*trading.Settlement, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "settlement", "settle")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrSettlementID, settlementID.String())

	var (
		settlement *trading.Settlement
		touched    []uuid.UUID
		err        error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels(telemetry.OperationSettleTrade, ledger.TransactionTypeSettlement.String()), func(ctx context.Context) {
		settlement, touched, err = s.settle(ctx, settlementID, actor)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.postings.InvalidateSnapshots(ctx, touched...)
	telemetry.SetAttribute(span, telemetry.SpanAttrTradeID, settlement.TradeID.String())
	telemetry.SetOK(span)
	return settlement, nil
}

func (s *SettlementService) settle(ctx context.Context, settlementID uuid.UUID, actor audit.Actor) (*trading.Settlement, []uuid.UUID, error) {
	started, err := appledger.ExecuteWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Settlement, error) {
		settlement, err := repos.Settlements().FindByID(ctx, settlementID)
		if err != nil {
			return nil, err
		}
		if settlement.Status == trading.SettlementStatusCompleted {
			return settlement, nil
		}
		trade, err := repos.Trades().FindByID(ctx, settlement.TradeID)
		if err != nil {
			return nil, err
		}
		if err := settlement.StartProcessing(); err != nil {
			return nil, err
		}
		if err := trade.BeginSettlement(); err != nil {
			return nil, err
		}
		if err := repos.Trades().SaveWithLock(ctx, trade); err != nil {
			return nil, err
		}
		return settlement, repos.Settlements().SaveWithLock(ctx, settlement)
	})
	if err != nil {
		return nil, nil, err
	}
	if started.Status == trading.SettlementStatusCompleted {
		return started, nil, nil
	}

	var touched []uuid.UUID
	completed, err := appledger.ExecuteWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Settlement, error) {
		touched = nil
		settlement, accounts, err := s.complete(ctx, repos, settlementID, actor)
		if err != nil {
			return nil, err
		}
		touched = accounts
		return settlement, nil
	})
	if err == nil {
		s.metrics.RecordSettlement(ctx, "completed")
		s.logger.Info("settlement completed",
			zap.String("settlement_id", settlementID.String()),
			zap.String("trade_id", completed.TradeID.String()),
			zap.Int("attempts", completed.Attempts))
		return completed, touched, nil
	}

	switch shared.KindOf(err) {
	case shared.ErrorKindInfrastructure, shared.ErrorKindConcurrency:
		// left PROCESSING; the sweep picks it up again
		s.metrics.RecordSettlement(ctx, "interrupted")
		return nil, nil, err
	}

	reason := err.Error()
	if failErr := s.markFailed(ctx, settlementID, reason, actor); failErr != nil {
		s.logger.Error("failed to record settlement failure",
			zap.String("settlement_id", settlementID.String()),
			zap.Error(failErr))
	}
	s.metrics.RecordSettlement(ctx, "failed")
	s.logger.Warn("settlement failed",
		zap.String("settlement_id", settlementID.String()),
		zap.String("reason", reason))

	failure := trading.ErrSettlementFailed.
		WithDetail("settlement_id", settlementID.String()).
		WithDetail("reason", reason)
	return nil, nil, failure
}

// complete posts the settlement transaction and updates every aggregate it
// affects. It returns the accounts whose balances changed.
func (s *SettlementService) complete(ctx context.Context, repos appledger.TransactionalRepositories, settlementID uuid.UUID, actor audit.Actor) (*trading.Settlement, []uuid.UUID, error) {
	settlement, err := repos.Settlements().FindByID(ctx, settlementID)
	if err != nil {
		return nil, nil, err
	}
	trade, err := repos.Trades().FindByID(ctx, settlement.TradeID)
	if err != nil {
		return nil, nil, err
	}
	buy, err := repos.Orders().FindByID(ctx, trade.BuyOrderID)
	if err != nil {
		return nil, nil, err
	}
	sell, err := repos.Orders().FindByID(ctx, trade.SellOrderID)
	if err != nil {
		return nil, nil, err
	}
	hold, err := activeHold(ctx, repos, buy)
	if err != nil {
		return nil, nil, err
	}
	fees, err := appledger.EnsurePlatformAccountIn(ctx, repos, ledger.AccountTypeFeeCollection, trade.Currency)
	if err != nil {
		return nil, nil, err
	}

	// per-fill rounding can leave the hold a few units short; the wallet covers the rest
	cost := trade.BuyerCost()
	fromEscrow := decimal.Zero
	if hold != nil {
		fromEscrow = decimal.Min(cost, hold.Remaining)
	}
	fromWallet := cost.Sub(fromEscrow)

	entries := make([]ledger.EntrySpec, 0, 4)
	if fromEscrow.IsPositive() {
		entries = append(entries, ledger.EntrySpec{
			AccountID: hold.EscrowAccountID, EntryType: ledger.EntryTypeDebit, Amount: fromEscrow, Description: "Trade purchase from escrow",
		})
	}
	if fromWallet.IsPositive() {
		entries = append(entries, ledger.EntrySpec{
			AccountID: buy.WalletAccountID, EntryType: ledger.EntryTypeDebit, Amount: fromWallet, Description: "Trade purchase",
		})
	}
	entries = append(entries, ledger.EntrySpec{
		AccountID: sell.WalletAccountID, EntryType: ledger.EntryTypeCredit, Amount: trade.Notional, Description: "Trade proceeds",
	})
	if trade.Fee.IsPositive() {
		entries = append(entries, ledger.EntrySpec{
			AccountID: fees.ID, EntryType: ledger.EntryTypeCredit, Amount: trade.Fee, Description: "Trading fee",
		})
	}

	result, err := s.postings.PostInScope(ctx, repos, ledger.PostingParams{
		Type:           ledger.TransactionTypeSettlement,
		Description:    fmt.Sprintf("Settlement of trade %s", trade.ID),
		Currency:       trade.Currency,
		Amount:         cost,
		IdempotencyKey: settlement.IdempotencyKey(),
		Reference:      &ledger.Reference{Type: ledger.ReferenceSettlement, ID: settlement.ID},
		Metadata: map[string]string{
			"trade_id": trade.ID.String(),
			"quantity": trade.Quantity.String(),
			"price":    trade.Price.String(),
		},
		Entries: entries,
	}, audit.ActionTransactionPosted, "", actor)
	if err != nil {
		return nil, nil, err
	}
	touched := result.Transaction.AccountIDs()

	if fromEscrow.IsPositive() && !result.Replayed {
		if err := hold.Consume(fromEscrow); err != nil {
			return nil, nil, err
		}
		if err := repos.Holds().SaveWithLock(ctx, hold); err != nil {
			return nil, nil, err
		}
	}

	before := *settlement
	if err := settlement.Complete(result.Transaction.ID); err != nil {
		return nil, nil, err
	}
	if err := trade.MarkSettled(); err != nil {
		return nil, nil, err
	}
	if err := buy.MarkSettled(trade.Quantity); err != nil {
		return nil, nil, err
	}
	if err := sell.MarkSettled(trade.Quantity); err != nil {
		return nil, nil, err
	}

	if hold != nil && hold.IsActive() && buyerDone(buy) {
		release, err := s.postings.ReleaseInScope(ctx, repos, hold, decimal.Zero, "order settled", actor)
		if err != nil {
			return nil, nil, err
		}
		settlement.TransactionIDs = append(settlement.TransactionIDs, release.Transaction.ID)
		touched = append(touched, release.Transaction.AccountIDs()...)
	}

	if err := repos.Trades().SaveWithLock(ctx, trade); err != nil {
		return nil, nil, err
	}
	for _, o := range []*trading.Order{buy, sell} {
		if err := repos.Orders().SaveWithLock(ctx, o); err != nil {
			return nil, nil, err
		}
	}
	if err := repos.Settlements().SaveWithLock(ctx, settlement); err != nil {
		return nil, nil, err
	}

	entry, err := audit.NewEntry(audit.ActionSettlementCompleted, actor, trading.AggregateTypeSettlement, settlement.ID, &before, settlement, "")
	if err != nil {
		return nil, nil, err
	}
	if err := repos.Audit().Append(ctx, entry); err != nil {
		return nil, nil, err
	}
	events := append(settlement.PullDomainEvents(), buy.PullDomainEvents()...)
	events = append(events, sell.PullDomainEvents()...)
	if err := repos.Outbox().Append(ctx, events...); err != nil {
		return nil, nil, err
	}
	return settlement, touched, nil
}

// buyerDone reports whether the buy order can never need its escrow again
func buyerDone(o *trading.Order) bool {
	return o.Status.IsTerminal() && !o.UnsettledQuantity().IsPositive()
}

func (s *SettlementService) markFailed(ctx context.Context, settlementID uuid.UUID, reason string, actor audit.Actor) error {
	return s.scope.Execute(ctx, func(repos appledger.TransactionalRepositories) error {
		settlement, err := repos.Settlements().FindByID(ctx, settlementID)
		if err != nil {
			return err
		}
		trade, err := repos.Trades().FindByID(ctx, settlement.TradeID)
		if err != nil {
			return err
		}
		before := *settlement
		if err := settlement.Fail(reason); err != nil {
			return err
		}
		if err := trade.MarkSettlementFailed(); err != nil {
			return err
		}
		if err := repos.Trades().SaveWithLock(ctx, trade); err != nil {
			return err
		}
		if err := repos.Settlements().SaveWithLock(ctx, settlement); err != nil {
			return err
		}
		entry, err := audit.NewEntry(audit.ActionSettlementFailed, actor, trading.AggregateTypeSettlement, settlement.ID, &before, settlement, reason)
		if err != nil {
			return err
		}
		if err := repos.Audit().Append(ctx, entry); err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, settlement.PullDomainEvents()...)
	})
}

// RollBackSettlement abandons a settlement that has not completed. The fill is
// written off on both orders, escrow the buy order locked for the trade is
// returned to the buyer and the trade is marked disputed. A buy order left
// with nothing to settle gives back its whole hold.
func (s *SettlementService) RollBackSettlement(ctx context.Context, settlementID uuid.UUID, reason string, actor audit.Actor) (*trading.Settlement, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "settlement", "rollback")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrSettlementID, settlementID.String())

	if reason == "" {
		return nil, shared.NewDomainError("REASON_REQUIRED", "A rollback needs a reason")
	}

	var touched []uuid.UUID
	settlement, err := appledger.ExecuteWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Settlement, error) {
		touched = nil
		settlement, err := repos.Settlements().FindByID(ctx, settlementID)
		if err != nil {
			return nil, err
		}
		trade, err := repos.Trades().FindByID(ctx, settlement.TradeID)
		if err != nil {
			return nil, err
		}
		buy, err := repos.Orders().FindByID(ctx, trade.BuyOrderID)
		if err != nil {
			return nil, err
		}
		sell, err := repos.Orders().FindByID(ctx, trade.SellOrderID)
		if err != nil {
			return nil, err
		}
		before := *settlement

		if settlement.Status.IsTerminal() {
			return nil, trading.ErrSettlementTransition.
				WithDetail("settlement_id", settlement.ID.String()).
				WithDetail("from", settlement.Status.String()).
				WithDetail("to", trading.SettlementStatusRolledBack.String())
		}
		for _, o := range []*trading.Order{buy, sell} {
			if err := o.MarkRolledBack(trade.Quantity, reason); err != nil {
				return nil, err
			}
		}

		var compensating []uuid.UUID
		hold, err := activeHold(ctx, repos, buy)
		if err != nil {
			return nil, err
		}
		if hold != nil {
			amount := decimal.Min(hold.Remaining, trade.BuyerCost())
			if buyerDone(buy) || amount.Equal(hold.Remaining) {
				amount = decimal.Zero
			}
			release, err := s.postings.ReleaseInScope(ctx, repos, hold, amount, reason, actor)
			if err != nil {
				return nil, err
			}
			compensating = append(compensating, release.Transaction.ID)
			touched = release.Transaction.AccountIDs()
		}

		if err := settlement.RollBack(reason, compensating...); err != nil {
			return nil, err
		}
		if err := trade.MarkDisputed(); err != nil {
			return nil, err
		}
		if err := repos.Trades().SaveWithLock(ctx, trade); err != nil {
			return nil, err
		}
		for _, o := range []*trading.Order{buy, sell} {
			if err := repos.Orders().SaveWithLock(ctx, o); err != nil {
				return nil, err
			}
		}
		if err := repos.Settlements().SaveWithLock(ctx, settlement); err != nil {
			return nil, err
		}
		entry, err := audit.NewEntry(audit.ActionSettlementRolledBack, actor, trading.AggregateTypeSettlement, settlement.ID, &before, settlement, reason)
		if err != nil {
			return nil, err
		}
		if err := repos.Audit().Append(ctx, entry); err != nil {
			return nil, err
		}
		events := append(settlement.PullDomainEvents(), buy.PullDomainEvents()...)
		events = append(events, sell.PullDomainEvents()...)
		return settlement, repos.Outbox().Append(ctx, events...)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.postings.InvalidateSnapshots(ctx, touched...)
	s.metrics.RecordSettlement(ctx, "rolled_back")
	telemetry.SetOK(span)
	s.logger.Warn("settlement rolled back",
		zap.String("settlement_id", settlementID.String()),
		zap.String("reason", reason))
	return settlement, nil
}

// SettlePending settles up to limit pending or failed settlements that have
// attempts left. A failing settlement does not stop the batch.
func (s *SettlementService) SettlePending(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = s.config.BatchSize
	}
	due, err := appledger.ReadWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) ([]trading.Settlement, error) {
		return repos.Settlements().FindSettleable(ctx, s.config.MaxAttempts, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list settleable settlements: %w", err)
	}

	result := &BatchResult{Errors: make(map[uuid.UUID]string)}
	actor := audit.SystemActor("settlement-sweep")
	for _, settlement := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if _, err := s.SettleTrade(ctx, settlement.ID, actor); err != nil {
			result.Failed++
			result.Errors[settlement.ID] = err.Error()
			continue
		}
		result.Settled++
	}
	if len(due) > 0 {
		s.logger.Info("settlement sweep finished",
			zap.Int("settled", result.Settled),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// GetSettlement returns a settlement by ID
func (s *SettlementService) GetSettlement(ctx context.Context, id uuid.UUID) (*trading.Settlement, error) {
	return appledger.ReadWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Settlement, error) {
		return repos.Settlements().FindByID(ctx, id)
	})
}

// GetSettlementByTrade returns the settlement of a trade
func (s *SettlementService) GetSettlementByTrade(ctx context.Context, tradeID uuid.UUID) (*trading.Settlement, error) {
	settlement, err := appledger.ReadWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Settlement, error) {
		return repos.Settlements().FindByTradeID(ctx, tradeID)
	})
	if errors.Is(err, trading.ErrSettlementNotFound) {
		return nil, trading.ErrSettlementNotFound.WithDetail("trade_id", tradeID.String())
	}
	return settlement, err
}
