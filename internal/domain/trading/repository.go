package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// OrderFilter narrows order listings
type OrderFilter struct {
	shared.Filter
	UserID   *uuid.UUID
	MarketID string
	Status   OrderStatus
}

// OrderRepository defines the interface for order persistence
type OrderRepository interface {
	// Create inserts a new order
	Create(ctx context.Context, order *Order) error

	// SaveWithLock updates an order with an optimistic version check
	SaveWithLock(ctx context.Context, order *Order) error

	// FindByID finds an order by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// FindAll lists orders with filtering and returns the total count
	FindAll(ctx context.Context, filter OrderFilter) ([]Order, int64, error)

	// FindExpiring lists working GTD orders whose expiry is at or before now
	FindExpiring(ctx context.Context, now time.Time, limit int) ([]Order, error)
}

// TradeRepository defines the interface for trade persistence
type TradeRepository interface {
	// Create inserts a new trade
	Create(ctx context.Context, trade *Trade) error

	// SaveWithLock updates a trade with an optimistic version check
	SaveWithLock(ctx context.Context, trade *Trade) error

	// FindByID finds a trade by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Trade, error)

	// ListExecutedBetween pages trades executed in [from, to) in ID order after the given ID
	ListExecutedBetween(ctx context.Context, from, to time.Time, after uuid.UUID, limit int) ([]Trade, error)
}

// SettlementRepository defines the interface for settlement persistence
type SettlementRepository interface {
	// Create inserts a new settlement; one per trade
	Create(ctx context.Context, settlement *Settlement) error

	// SaveWithLock updates a settlement with an optimistic version check
	SaveWithLock(ctx context.Context, settlement *Settlement) error

	// FindByID finds a settlement by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Settlement, error)

	// FindByTradeID finds the settlement of a trade
	FindByTradeID(ctx context.Context, tradeID uuid.UUID) (*Settlement, error)

	// FindSettleable lists PENDING and FAILED settlements below the attempt limit, oldest first
	FindSettleable(ctx context.Context, maxAttempts, limit int) ([]Settlement, error)
}
