package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// OrderSide is BUY or SELL
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// IsValid checks if the side is BUY or SELL
func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType is the pricing instruction of an order
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// IsValid checks if the order type is known
func (t OrderType) IsValid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// HasLimitPrice returns true for types that carry a limit price
func (t OrderType) HasLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// TimeInForce controls how long an order stays working
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good till cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate or cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill or kill
	TimeInForceGTD TimeInForce = "GTD" // Good till date
)

// IsValid checks if the time in force is known
func (t TimeInForce) IsValid() bool {
	switch t {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceGTD:
		return true
	}
	return false
}

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "PENDING"
	OrderStatusOpen        OrderStatus = "OPEN"
	OrderStatusPartialFill OrderStatus = "PARTIAL_FILL"
	OrderStatusFilled      OrderStatus = "FILLED"
	OrderStatusSettled     OrderStatus = "SETTLED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
	OrderStatusRejected    OrderStatus = "REJECTED"
	OrderStatusExpired     OrderStatus = "EXPIRED"
)

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid checks if the status is known
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartialFill, OrderStatusFilled,
		OrderStatusSettled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsTerminal returns true for absorbing states
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusSettled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// CanCancel returns true while the order is still working. Fills are kept.
func (s OrderStatus) CanCancel() bool {
	return s == OrderStatusPending || s == OrderStatusOpen || s == OrderStatusPartialFill
}

// CanRejectOrExpire returns true only before the first fill
func (s OrderStatus) CanRejectOrExpire() bool {
	return s == OrderStatusPending || s == OrderStatusOpen
}

// CanFill returns true if the order may receive executions
func (s OrderStatus) CanFill() bool {
	return s == OrderStatusOpen || s == OrderStatusPartialFill
}

// OrderParams carries the fields needed to place an order
type OrderParams struct {
	UserID          uuid.UUID
	MarketID        string
	Side            OrderSide
	Type            OrderType
	TimeInForce     TimeInForce
	Price           decimal.Decimal
	StopPrice       decimal.Decimal
	Quantity        decimal.Decimal
	Currency        valueobject.Currency
	WalletAccountID uuid.UUID
	ExpiresAt       *time.Time
}

// Order is a user's instruction to trade
type Order struct {
	shared.BaseAggregateRoot
	UserID             uuid.UUID            `json:"user_id"`
	MarketID           string               `json:"market_id"`
	Side               OrderSide            `json:"side"`
	Type               OrderType            `json:"type"`
	TimeInForce        TimeInForce          `json:"time_in_force"`
	Price              decimal.Decimal      `json:"price"`
	StopPrice          decimal.Decimal      `json:"stop_price"`
	Quantity           decimal.Decimal      `json:"quantity"`
	FilledQuantity     decimal.Decimal      `json:"filled_quantity"`
	SettledQuantity    decimal.Decimal      `json:"settled_quantity"`
	RolledBackQuantity decimal.Decimal      `json:"rolled_back_quantity"`
	Currency           valueobject.Currency `json:"currency"`
	WalletAccountID    uuid.UUID            `json:"wallet_account_id"`
	HoldID             *uuid.UUID           `json:"hold_id,omitempty"`
	Status             OrderStatus          `json:"status"`
	StatusReason       string               `json:"status_reason,omitempty"`
	ExpiresAt          *time.Time           `json:"expires_at,omitempty"`
}

// NewOrder validates params and creates a PENDING order
func NewOrder(p OrderParams) (*Order, error) {
	if p.UserID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if strings.TrimSpace(p.MarketID) == "" {
		return nil, shared.NewDomainError("INVALID_MARKET", "Market ID cannot be empty")
	}
	if !p.Side.IsValid() {
		return nil, shared.NewDomainError("INVALID_SIDE", "Side must be BUY or SELL")
	}
	if !p.Type.IsValid() {
		return nil, shared.NewDomainError("INVALID_ORDER_TYPE", "Order type is not valid")
	}
	if !p.TimeInForce.IsValid() {
		return nil, shared.NewDomainError("INVALID_TIME_IN_FORCE", "Time in force is not valid")
	}
	if !p.Currency.IsValid() {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency is not supported")
	}
	if p.WalletAccountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_WALLET", "Wallet account is required")
	}
	if !p.Quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if err := validatePrices(p); err != nil {
		return nil, err
	}
	if p.TimeInForce == TimeInForceGTD {
		if p.ExpiresAt == nil || !p.ExpiresAt.After(time.Now()) {
			return nil, shared.NewDomainError("INVALID_EXPIRY", "GTD orders need a future expiry")
		}
	} else if p.ExpiresAt != nil {
		return nil, shared.NewDomainError("INVALID_EXPIRY", "Only GTD orders carry an expiry")
	}

	o := &Order{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		UserID:             p.UserID,
		MarketID:           strings.TrimSpace(p.MarketID),
		Side:               p.Side,
		Type:               p.Type,
		TimeInForce:        p.TimeInForce,
		Price:              p.Price,
		StopPrice:          p.StopPrice,
		Quantity:           p.Quantity,
		FilledQuantity:     decimal.Zero,
		SettledQuantity:    decimal.Zero,
		RolledBackQuantity: decimal.Zero,
		Currency:           p.Currency,
		WalletAccountID:    p.WalletAccountID,
		Status:             OrderStatusPending,
		ExpiresAt:          p.ExpiresAt,
	}
	o.AddDomainEvent(NewOrderPlacedEvent(o))
	return o, nil
}

func validatePrices(p OrderParams) error {
	needsPrice := p.Type.HasLimitPrice()
	needsStop := p.Type == OrderTypeStop || p.Type == OrderTypeStopLimit

	if needsPrice && !p.Price.IsPositive() {
		return shared.NewDomainError("INVALID_PRICE", fmt.Sprintf("%s orders need a positive price", p.Type))
	}
	if !needsPrice && !p.Price.IsZero() {
		return shared.NewDomainError("INVALID_PRICE", fmt.Sprintf("%s orders cannot carry a limit price", p.Type))
	}
	if needsStop && !p.StopPrice.IsPositive() {
		return shared.NewDomainError("INVALID_STOP_PRICE", fmt.Sprintf("%s orders need a positive stop price", p.Type))
	}
	if !needsStop && !p.StopPrice.IsZero() {
		return shared.NewDomainError("INVALID_STOP_PRICE", fmt.Sprintf("%s orders cannot carry a stop price", p.Type))
	}
	return nil
}

// LocksEscrow reports whether placing the order reserves funds up front
func (o *Order) LocksEscrow() bool {
	return o.Side == OrderSideBuy && o.Type == OrderTypeLimit
}

// RemainingQuantity returns the unfilled quantity
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// AttachHold records the escrow hold locked for this order
func (o *Order) AttachHold(holdID uuid.UUID) {
	o.HoldID = &holdID
}

// Accept moves a PENDING order to OPEN
func (o *Order) Accept() error {
	if o.Status != OrderStatusPending {
		return o.transitionError(OrderStatusOpen)
	}
	return o.changeStatus(OrderStatusOpen, "")
}

// ApplyFill records an execution against the order
func (o *Order) ApplyFill(qty decimal.Decimal) error {
	if !o.Status.CanFill() {
		return o.transitionError(OrderStatusPartialFill)
	}
	if !qty.IsPositive() {
		return shared.NewDomainError("INVALID_QUANTITY", "Fill quantity must be positive")
	}
	if qty.GreaterThan(o.RemainingQuantity()) {
		return ErrOverfill.
			WithDetail("order_id", o.ID.String()).
			WithDetail("remaining", o.RemainingQuantity().String()).
			WithDetail("fill", qty.String())
	}
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	next := OrderStatusPartialFill
	if o.FilledQuantity.Equal(o.Quantity) {
		next = OrderStatusFilled
	}
	return o.changeStatus(next, "")
}

// UnsettledQuantity is the filled quantity still waiting on settlement
func (o *Order) UnsettledQuantity() decimal.Decimal {
	return o.FilledQuantity.Sub(o.SettledQuantity).Sub(o.RolledBackQuantity)
}

// MarkSettled records settled quantity; a filled order becomes SETTLED once
// no fill is left waiting on settlement
func (o *Order) MarkSettled(qty decimal.Decimal) error {
	if qty.GreaterThan(o.UnsettledQuantity()) {
		return shared.NewDomainErrorOfKind(shared.ErrorKindState, "SETTLEMENT_EXCEEDS_FILL", "Settled quantity exceeds filled quantity").
			WithDetail("order_id", o.ID.String())
	}
	o.SettledQuantity = o.SettledQuantity.Add(qty)
	return o.closeIfAccounted("")
}

// MarkRolledBack records a fill whose settlement was abandoned. A filled order
// with nothing left to settle closes: SETTLED when any fill settled, CANCELLED
// otherwise.
func (o *Order) MarkRolledBack(qty decimal.Decimal, reason string) error {
	if !qty.IsPositive() {
		return shared.NewDomainError("INVALID_QUANTITY", "Rolled back quantity must be positive")
	}
	if qty.GreaterThan(o.UnsettledQuantity()) {
		return shared.NewDomainErrorOfKind(shared.ErrorKindState, "ROLLBACK_EXCEEDS_FILL", "Rolled back quantity exceeds unsettled quantity").
			WithDetail("order_id", o.ID.String()).
			WithDetail("unsettled", o.UnsettledQuantity().String())
	}
	o.RolledBackQuantity = o.RolledBackQuantity.Add(qty)
	return o.closeIfAccounted(reason)
}

func (o *Order) closeIfAccounted(reason string) error {
	if o.Status != OrderStatusFilled || o.UnsettledQuantity().IsPositive() {
		o.IncrementVersion()
		return nil
	}
	if o.SettledQuantity.IsPositive() {
		return o.changeStatus(OrderStatusSettled, "")
	}
	return o.changeStatus(OrderStatusCancelled, reason)
}

// Cancel stops a working order. Fills already recorded are preserved.
func (o *Order) Cancel(reason string) error {
	if !o.Status.CanCancel() {
		return o.transitionError(OrderStatusCancelled)
	}
	return o.changeStatus(OrderStatusCancelled, reason)
}

// Reject refuses an order that has not been filled
func (o *Order) Reject(reason string) error {
	if !o.Status.CanRejectOrExpire() {
		return o.transitionError(OrderStatusRejected)
	}
	return o.changeStatus(OrderStatusRejected, reason)
}

// IsExpiredAt reports whether a GTD order has passed its expiry
func (o *Order) IsExpiredAt(now time.Time) bool {
	return o.TimeInForce == TimeInForceGTD && o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// Expire moves an unfilled GTD order past its expiry to EXPIRED
func (o *Order) Expire(now time.Time) error {
	if !o.IsExpiredAt(now) {
		return shared.NewDomainErrorOfKind(shared.ErrorKindState, "ORDER_NOT_EXPIRED", "Order has not reached its expiry").
			WithDetail("order_id", o.ID.String())
	}
	if !o.Status.CanRejectOrExpire() {
		return o.transitionError(OrderStatusExpired)
	}
	return o.changeStatus(OrderStatusExpired, "expired")
}

func (o *Order) changeStatus(to OrderStatus, reason string) error {
	from := o.Status
	o.Status = to
	if reason != "" {
		o.StatusReason = reason
	}
	o.IncrementVersion()
	if from != to {
		o.AddDomainEvent(NewOrderStatusChangedEvent(o, from))
	}
	return nil
}

func (o *Order) transitionError(to OrderStatus) error {
	return ErrOrderTransition.
		WithDetail("order_id", o.ID.String()).
		WithDetail("from", o.Status.String()).
		WithDetail("to", to.String())
}
