package trading

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// Aggregate type names
const (
	AggregateTypeOrder      = "Order"
	AggregateTypeTrade      = "Trade"
	AggregateTypeSettlement = "Settlement"
)

// Event type names
const (
	EventTypeOrderPlaced             = "OrderPlaced"
	EventTypeOrderStatusChanged      = "OrderStatusChanged"
	EventTypeTradeExecuted           = "TradeExecuted"
	EventTypeSettlementStatusChanged = "SettlementStatusChanged"
)

// OrderPlacedEvent is raised when an order is accepted for intake
type OrderPlacedEvent struct {
	shared.BaseDomainEvent
	OrderID  uuid.UUID       `json:"order_id"`
	UserID   uuid.UUID       `json:"user_id"`
	MarketID string          `json:"market_id"`
	Side     OrderSide       `json:"side"`
	Type     OrderType       `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// EventType returns the event type name
func (e *OrderPlacedEvent) EventType() string {
	return EventTypeOrderPlaced
}

// NewOrderPlacedEvent creates a new OrderPlacedEvent
func NewOrderPlacedEvent(o *Order) *OrderPlacedEvent {
	return &OrderPlacedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderPlaced, AggregateTypeOrder, o.ID),
		OrderID:         o.ID,
		UserID:          o.UserID,
		MarketID:        o.MarketID,
		Side:            o.Side,
		Type:            o.Type,
		Price:           o.Price,
		Quantity:        o.Quantity,
	}
}

// OrderStatusChangedEvent is raised on every order transition
type OrderStatusChangedEvent struct {
	shared.BaseDomainEvent
	OrderID        uuid.UUID       `json:"order_id"`
	From           OrderStatus     `json:"from"`
	To             OrderStatus     `json:"to"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Reason         string          `json:"reason,omitempty"`
}

// EventType returns the event type name
func (e *OrderStatusChangedEvent) EventType() string {
	return EventTypeOrderStatusChanged
}

// NewOrderStatusChangedEvent creates a new OrderStatusChangedEvent
func NewOrderStatusChangedEvent(o *Order, from OrderStatus) *OrderStatusChangedEvent {
	return &OrderStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderStatusChanged, AggregateTypeOrder, o.ID),
		OrderID:         o.ID,
		From:            from,
		To:              o.Status,
		FilledQuantity:  o.FilledQuantity,
		Reason:          o.StatusReason,
	}
}

// TradeExecutedEvent is raised when a trade is recorded
type TradeExecutedEvent struct {
	shared.BaseDomainEvent
	TradeID  uuid.UUID            `json:"trade_id"`
	MarketID string               `json:"market_id"`
	Price    decimal.Decimal      `json:"price"`
	Quantity decimal.Decimal      `json:"quantity"`
	Notional decimal.Decimal      `json:"notional"`
	Fee      decimal.Decimal      `json:"fee"`
	Currency valueobject.Currency `json:"currency"`
}

// EventType returns the event type name
func (e *TradeExecutedEvent) EventType() string {
	return EventTypeTradeExecuted
}

// NewTradeExecutedEvent creates a new TradeExecutedEvent
func NewTradeExecutedEvent(t *Trade) *TradeExecutedEvent {
	return &TradeExecutedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTradeExecuted, AggregateTypeTrade, t.ID),
		TradeID:         t.ID,
		MarketID:        t.MarketID,
		Price:           t.Price,
		Quantity:        t.Quantity,
		Notional:        t.Notional,
		Fee:             t.Fee,
		Currency:        t.Currency,
	}
}

// SettlementStatusChangedEvent feeds settlement progress to the projection layer
type SettlementStatusChangedEvent struct {
	shared.BaseDomainEvent
	SettlementID   uuid.UUID        `json:"settlement_id"`
	TradeID        uuid.UUID        `json:"trade_id"`
	From           SettlementStatus `json:"from"`
	To             SettlementStatus `json:"to"`
	Attempts       int              `json:"attempts"`
	TransactionIDs []uuid.UUID      `json:"transaction_ids,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// EventType returns the event type name
func (e *SettlementStatusChangedEvent) EventType() string {
	return EventTypeSettlementStatusChanged
}

// NewSettlementStatusChangedEvent creates a new SettlementStatusChangedEvent
func NewSettlementStatusChangedEvent(s *Settlement, from SettlementStatus) *SettlementStatusChangedEvent {
	return &SettlementStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSettlementStatusChanged, AggregateTypeSettlement, s.ID),
		SettlementID:    s.ID,
		TradeID:         s.TradeID,
		From:            from,
		To:              s.Status,
		Attempts:        s.Attempts,
		TransactionIDs:  s.TransactionIDs,
		Error:           s.LastError,
	}
}
