package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Config holds trading settings
type Config struct {
	Fees           trading.FeeSchedule
	SettlementType trading.SettlementType
}

// RecordTradeRequest reports an execution between two working orders
type RecordTradeRequest struct {
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Price       decimal.Decimal
	Quantity    decimal.Decimal
}

// TradeResult is a recorded trade and the settlement obligation it created
type TradeResult struct {
	Trade      *trading.Trade
	Settlement *trading.Settlement
}

// Settler settles a trade once it is recorded
type Settler interface {
	SettleTrade(ctx context.Context, settlementID uuid.UUID, actor audit.Actor) (*trading.Settlement, error)
}

// OrderService handles order intake and trade recording. Escrow for BUY LIMIT
// orders is locked and released in the same unit of work as the order change.
type OrderService struct {
	scope    appledger.TransactionScope
	postings *appledger.PostingService
	settler  Settler
	config   Config
	logger   *zap.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(scope appledger.TransactionScope, postings *appledger.PostingService, config Config, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SettlementType == "" {
		config.SettlementType = trading.SettlementTypeStandard
	}
	return &OrderService{
		scope:    scope,
		postings: postings,
		config:   config,
		logger:   logger,
	}
}

// SetSettler makes RecordTrade settle INSTANT settlements right away
func (s *OrderService) SetSettler(settler Settler) {
	s.settler = settler
}

// PlaceOrder validates and stores a PENDING order. BUY LIMIT orders lock
// price × quantity plus the largest possible fee from the wallet.
func (s *OrderService) PlaceOrder(ctx context.Context, params trading.OrderParams, actor audit.Actor) (*trading.Order, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "order", "place")
	defer span.End()

	var touched []uuid.UUID
	order, err := appledger.ExecuteWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Order, error) {
		touched = nil
		order, err := trading.NewOrder(params)
		if err != nil {
			return nil, err
		}
		if err := checkWallet(ctx, repos, order); err != nil {
			return nil, err
		}

		if order.LocksEscrow() {
			result, err := s.postings.LockInScope(ctx, repos, appledger.LockEscrowRequest{
				WalletAccountID: order.WalletAccountID,
				Amount:          trading.EscrowRequirement(order, s.config.Fees),
				Reference:       &ledger.Reference{Type: ledger.ReferenceOrder, ID: order.ID},
				IdempotencyKey:  "order-lock:" + order.ID.String(),
				Description:     "Escrow for order " + order.ID.String(),
			}, actor)
			if err != nil {
				return nil, err
			}
			order.AttachHold(result.Hold.ID)
			touched = result.Transaction.AccountIDs()
		}

		if err := repos.Orders().Create(ctx, order); err != nil {
			return nil, err
		}
		if err := recordOrder(ctx, repos, audit.ActionOrderPlaced, actor, nil, order, ""); err != nil {
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.postings.InvalidateSnapshots(ctx, touched...)
	telemetry.SetAttribute(span, telemetry.SpanAttrOrderID, order.ID.String())
	telemetry.SetOK(span)
	s.logger.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("market_id", order.MarketID),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()))
	return order, nil
}

// AcceptOrder moves a PENDING order to OPEN
func (s *OrderService) AcceptOrder(ctx context.Context, id uuid.UUID, actor audit.Actor) (*trading.Order, error) {
	return s.transition(ctx, "accept", id, actor, "", func(ctx context.Context, repos appledger.TransactionalRepositories, o *trading.Order) (audit.Action, error) {
		return "", o.Accept()
	})
}

// CancelOrder stops a working order. Fills are kept; escrow not needed by
// unsettled fills is released.
func (s *OrderService) CancelOrder(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*trading.Order, error) {
	return s.transition(ctx, "cancel", id, actor, reason, func(ctx context.Context, repos appledger.TransactionalRepositories, o *trading.Order) (audit.Action, error) {
		if err := o.Cancel(reason); err != nil {
			return "", err
		}
		return audit.ActionOrderCancelled, nil
	})
}

// RejectOrder refuses an order that has not been filled and releases its escrow
func (s *OrderService) RejectOrder(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*trading.Order, error) {
	return s.transition(ctx, "reject", id, actor, reason, func(ctx context.Context, repos appledger.TransactionalRepositories, o *trading.Order) (audit.Action, error) {
		if err := o.Reject(reason); err != nil {
			return "", err
		}
		return audit.ActionOrderRejected, nil
	})
}

// ExpireOrders expires working GTD orders past their expiry and releases their
// escrow. Each order is handled in its own unit of work; a failure is logged
// and does not stop the sweep.
func (s *OrderService) ExpireOrders(ctx context.Context, now time.Time, limit int) (int, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "order", "expire")
	defer span.End()

	due, err := appledger.ReadWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) ([]trading.Order, error) {
		return repos.Orders().FindExpiring(ctx, now, limit)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to list expiring orders: %w", err)
	}

	actor := audit.SystemActor("order-expiry")
	expired := 0
	for _, o := range due {
		_, err := s.transition(ctx, "expire", o.ID, actor, "expired", func(ctx context.Context, repos appledger.TransactionalRepositories, o *trading.Order) (audit.Action, error) {
			if err := o.Expire(now); err != nil {
				return "", err
			}
			return audit.ActionOrderExpired, nil
		})
		if err != nil {
			s.logger.Warn("failed to expire order",
				zap.String("order_id", o.ID.String()),
				zap.Error(err))
			continue
		}
		expired++
	}

	telemetry.SetAttribute(span, "expired", expired)
	telemetry.SetOK(span)
	return expired, nil
}

// RecordTrade applies an execution to both orders and creates the trade and
// its settlement obligation in one unit of work
func (s *OrderService) RecordTrade(ctx context.Context, req RecordTradeRequest, actor audit.Actor) (*TradeResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "trade", "record")
	defer span.End()

	result, err := appledger.ExecuteWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*TradeResult, error) {
		if req.BuyOrderID == req.SellOrderID {
			return nil, trading.ErrOrderMismatch.WithMessage("An order cannot trade against itself")
		}
		buy, err := repos.Orders().FindByID(ctx, req.BuyOrderID)
		if err != nil {
			return nil, err
		}
		sell, err := repos.Orders().FindByID(ctx, req.SellOrderID)
		if err != nil {
			return nil, err
		}

		trade, err := trading.NewTrade(buy, sell, req.Price, req.Quantity, s.config.Fees)
		if err != nil {
			return nil, err
		}
		if err := buy.ApplyFill(req.Quantity); err != nil {
			return nil, err
		}
		if err := sell.ApplyFill(req.Quantity); err != nil {
			return nil, err
		}
		settlement, err := trading.NewSettlement(trade, s.config.SettlementType)
		if err != nil {
			return nil, err
		}

		if err := repos.Trades().Create(ctx, trade); err != nil {
			return nil, err
		}
		if err := repos.Settlements().Create(ctx, settlement); err != nil {
			return nil, err
		}
		for _, o := range []*trading.Order{buy, sell} {
			if err := repos.Orders().SaveWithLock(ctx, o); err != nil {
				return nil, err
			}
		}

		entry, err := audit.NewEntry(audit.ActionTradeRecorded, actor, trading.AggregateTypeTrade, trade.ID, nil, trade, "")
		if err != nil {
			return nil, err
		}
		if err := repos.Audit().Append(ctx, entry); err != nil {
			return nil, err
		}
		events := append(trade.PullDomainEvents(), buy.PullDomainEvents()...)
		events = append(events, sell.PullDomainEvents()...)
		if err := repos.Outbox().Append(ctx, events...); err != nil {
			return nil, err
		}
		return &TradeResult{Trade: trade, Settlement: settlement}, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTradeID, result.Trade.ID.String(),
		telemetry.SpanAttrSettlementID, result.Settlement.ID.String(),
	)
	telemetry.SetOK(span)
	s.logger.Info("trade recorded",
		zap.String("trade_id", result.Trade.ID.String()),
		zap.String("settlement_id", result.Settlement.ID.String()),
		zap.String("notional", result.Trade.Notional.String()))

	if result.Settlement.Type == trading.SettlementTypeInstant && s.settler != nil {
		settled, err := s.settler.SettleTrade(ctx, result.Settlement.ID, actor)
		if err != nil {
			s.logger.Warn("instant settlement failed; left for the settlement sweep",
				zap.String("settlement_id", result.Settlement.ID.String()),
				zap.Error(err))
		} else {
			result.Settlement = settled
		}
	}
	return result, nil
}

// GetOrder returns an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*trading.Order, error) {
	return appledger.ReadWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Order, error) {
		return repos.Orders().FindByID(ctx, id)
	})
}

type orderChange func(ctx context.Context, repos appledger.TransactionalRepositories, o *trading.Order) (audit.Action, error)

// transition applies change to an order, releases escrow the order no longer
// needs and writes audit and outbox records in one unit of work
func (s *OrderService) transition(ctx context.Context, name string, id uuid.UUID, actor audit.Actor, reason string, change orderChange) (*trading.Order, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "order", name)
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrOrderID, id.String())

	var touched []uuid.UUID
	order, err := appledger.ExecuteWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*trading.Order, error) {
		touched = nil
		order, err := repos.Orders().FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		before := *order

		action, err := change(ctx, repos, order)
		if err != nil {
			return nil, err
		}
		if order.Status.IsTerminal() {
			released, err := s.releaseUnneeded(ctx, repos, order, reason, actor)
			if err != nil {
				return nil, err
			}
			touched = released
		}
		if err := repos.Orders().SaveWithLock(ctx, order); err != nil {
			return nil, err
		}
		if action == "" {
			return order, repos.Outbox().Append(ctx, order.PullDomainEvents()...)
		}
		if err := recordOrder(ctx, repos, action, actor, &before, order, reason); err != nil {
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.postings.InvalidateSnapshots(ctx, touched...)
	telemetry.SetAttribute(span, telemetry.SpanAttrOrderStatus, order.Status.String())
	telemetry.SetOK(span)
	s.logger.Info("order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("status", order.Status.String()))
	return order, nil
}

// releaseUnneeded returns the escrow of a terminal order beyond what its
// unsettled fills still need
func (s *OrderService) releaseUnneeded(ctx context.Context, repos appledger.TransactionalRepositories, order *trading.Order, reason string, actor audit.Actor) ([]uuid.UUID, error) {
	hold, err := activeHold(ctx, repos, order)
	if err != nil || hold == nil {
		return nil, err
	}
	excess := hold.Remaining.Sub(ReservedForUnsettled(order, s.config.Fees))
	if !excess.IsPositive() {
		return nil, nil
	}
	if excess.Equal(hold.Remaining) {
		excess = decimal.Zero
	}
	result, err := s.postings.ReleaseInScope(ctx, repos, hold, excess, reason, actor)
	if err != nil {
		return nil, err
	}
	return result.Transaction.AccountIDs(), nil
}

// ReservedForUnsettled is the escrow an order must keep for fills that have
// not settled yet, priced at the order's limit
func ReservedForUnsettled(order *trading.Order, fees trading.FeeSchedule) decimal.Decimal {
	unsettled := order.UnsettledQuantity()
	if !unsettled.IsPositive() {
		return decimal.Zero
	}
	notional := trading.Notional(order.Price, unsettled, order.Currency)
	return notional.Add(fees.FeeFor(notional, order.Currency))
}

func activeHold(ctx context.Context, repos appledger.TransactionalRepositories, order *trading.Order) (*ledger.EscrowHold, error) {
	if order.HoldID == nil {
		return nil, nil
	}
	hold, err := repos.Holds().FindByID(ctx, *order.HoldID)
	if errors.Is(err, ledger.ErrHoldNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !hold.IsActive() {
		return nil, nil
	}
	return hold, nil
}

func checkWallet(ctx context.Context, repos appledger.TransactionalRepositories, order *trading.Order) error {
	wallet, err := repos.Accounts().FindByID(ctx, order.WalletAccountID)
	if err != nil {
		return err
	}
	if wallet.Type != ledger.AccountTypeUserWallet || wallet.OwnerID == nil || *wallet.OwnerID != order.UserID {
		return ledger.ErrInvalidAccountType.
			WithMessage("Orders must use the placing user's wallet").
			WithDetail("account_id", wallet.ID.String())
	}
	if wallet.Currency != order.Currency {
		return ledger.ErrCurrencyMismatch.WithDetail("account_id", wallet.ID.String())
	}
	return nil
}

func recordOrder(ctx context.Context, repos appledger.TransactionalRepositories, action audit.Action, actor audit.Actor, before, after *trading.Order, reason string) error {
	var prior any
	if before != nil {
		prior = before
	}
	entry, err := audit.NewEntry(action, actor, trading.AggregateTypeOrder, after.ID, prior, after, reason)
	if err != nil {
		return err
	}
	if err := repos.Audit().Append(ctx, entry); err != nil {
		return err
	}
	return repos.Outbox().Append(ctx, after.PullDomainEvents()...)
}
