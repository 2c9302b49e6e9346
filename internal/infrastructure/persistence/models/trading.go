package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/domain/trading"
)

// OrderModel is the persistence model for the Order aggregate root.
type OrderModel struct {
	AggregateModel
	UserID             uuid.UUID            `gorm:"type:uuid;not null;index"`
	MarketID           string               `gorm:"type:varchar(100);not null;index"`
	Side               trading.OrderSide    `gorm:"type:varchar(10);not null"`
	Type               trading.OrderType    `gorm:"type:varchar(20);not null"`
	TimeInForce        trading.TimeInForce  `gorm:"type:varchar(10);not null"`
	Price              decimal.Decimal      `gorm:"type:decimal(38,18);not null;default:0"`
	StopPrice          decimal.Decimal      `gorm:"type:decimal(38,18);not null;default:0"`
	Quantity           decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	FilledQuantity     decimal.Decimal      `gorm:"type:decimal(38,18);not null;default:0"`
	SettledQuantity    decimal.Decimal      `gorm:"type:decimal(38,18);not null;default:0"`
	RolledBackQuantity decimal.Decimal      `gorm:"type:decimal(38,18);not null;default:0"`
	Currency           valueobject.Currency `gorm:"type:varchar(10);not null"`
	WalletAccountID    uuid.UUID            `gorm:"type:uuid;not null"`
	HoldID             *uuid.UUID           `gorm:"type:uuid"`
	Status             trading.OrderStatus  `gorm:"type:varchar(20);not null;index:idx_orders_status_expires,priority:1"`
	StatusReason       string               `gorm:"type:varchar(500)"`
	ExpiresAt          *time.Time           `gorm:"index:idx_orders_status_expires,priority:2"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order.
func (m *OrderModel) ToDomain() *trading.Order {
	return &trading.Order{
		BaseAggregateRoot:  m.ToDomainAggregateRoot(),
		UserID:             m.UserID,
		MarketID:           m.MarketID,
		Side:               m.Side,
		Type:               m.Type,
		TimeInForce:        m.TimeInForce,
		Price:              m.Price,
		StopPrice:          m.StopPrice,
		Quantity:           m.Quantity,
		FilledQuantity:     m.FilledQuantity,
		SettledQuantity:    m.SettledQuantity,
		RolledBackQuantity: m.RolledBackQuantity,
		Currency:           m.Currency,
		WalletAccountID:    m.WalletAccountID,
		HoldID:             m.HoldID,
		Status:             m.Status,
		StatusReason:       m.StatusReason,
		ExpiresAt:          m.ExpiresAt,
	}
}

// FromDomain populates the persistence model from a domain Order.
func (m *OrderModel) FromDomain(o *trading.Order) {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.UserID = o.UserID
	m.MarketID = o.MarketID
	m.Side = o.Side
	m.Type = o.Type
	m.TimeInForce = o.TimeInForce
	m.Price = o.Price
	m.StopPrice = o.StopPrice
	m.Quantity = o.Quantity
	m.FilledQuantity = o.FilledQuantity
	m.SettledQuantity = o.SettledQuantity
	m.RolledBackQuantity = o.RolledBackQuantity
	m.Currency = o.Currency
	m.WalletAccountID = o.WalletAccountID
	m.HoldID = o.HoldID
	m.Status = o.Status
	m.StatusReason = o.StatusReason
	m.ExpiresAt = o.ExpiresAt
}

// OrderModelFromDomain creates a new persistence model from a domain Order.
func OrderModelFromDomain(o *trading.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}

// TradeModel is the persistence model for the Trade aggregate root.
type TradeModel struct {
	AggregateModel
	BuyOrderID  uuid.UUID            `gorm:"type:uuid;not null;index"`
	SellOrderID uuid.UUID            `gorm:"type:uuid;not null;index"`
	BuyerID     uuid.UUID            `gorm:"type:uuid;not null"`
	SellerID    uuid.UUID            `gorm:"type:uuid;not null"`
	MarketID    string               `gorm:"type:varchar(100);not null"`
	Price       decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	Quantity    decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	Notional    decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	Fee         decimal.Decimal      `gorm:"type:decimal(38,18);not null;default:0"`
	Currency    valueobject.Currency `gorm:"type:varchar(10);not null"`
	Status      trading.TradeStatus  `gorm:"type:varchar(30);not null"`
	ExecutedAt  time.Time            `gorm:"not null;index"`
	SettledAt   *time.Time
}

// TableName returns the table name for GORM
func (TradeModel) TableName() string {
	return "trades"
}

// ToDomain converts the persistence model to a domain Trade.
func (m *TradeModel) ToDomain() *trading.Trade {
	return &trading.Trade{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		BuyOrderID:        m.BuyOrderID,
		SellOrderID:       m.SellOrderID,
		BuyerID:           m.BuyerID,
		SellerID:          m.SellerID,
		MarketID:          m.MarketID,
		Price:             m.Price,
		Quantity:          m.Quantity,
		Notional:          m.Notional,
		Fee:               m.Fee,
		Currency:          m.Currency,
		Status:            m.Status,
		ExecutedAt:        m.ExecutedAt,
		SettledAt:         m.SettledAt,
	}
}

// FromDomain populates the persistence model from a domain Trade.
func (m *TradeModel) FromDomain(t *trading.Trade) {
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	m.BuyOrderID = t.BuyOrderID
	m.SellOrderID = t.SellOrderID
	m.BuyerID = t.BuyerID
	m.SellerID = t.SellerID
	m.MarketID = t.MarketID
	m.Price = t.Price
	m.Quantity = t.Quantity
	m.Notional = t.Notional
	m.Fee = t.Fee
	m.Currency = t.Currency
	m.Status = t.Status
	m.ExecutedAt = t.ExecutedAt
	m.SettledAt = t.SettledAt
}

// TradeModelFromDomain creates a new persistence model from a domain Trade.
func TradeModelFromDomain(t *trading.Trade) *TradeModel {
	m := &TradeModel{}
	m.FromDomain(t)
	return m
}

// SettlementModel is the persistence model for the Settlement aggregate root.
// trade_id is unique: a trade produces exactly one settlement.
type SettlementModel struct {
	AggregateModel
	TradeID        uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex"`
	Type           trading.SettlementType   `gorm:"type:varchar(20);not null"`
	Status         trading.SettlementStatus `gorm:"type:varchar(20);not null;index"`
	Attempts       int                      `gorm:"not null;default:0"`
	LastError      string                   `gorm:"type:text"`
	TransactionIDs []uuid.UUID              `gorm:"type:jsonb;serializer:json"`
	CompletedAt    *time.Time
}

// TableName returns the table name for GORM
func (SettlementModel) TableName() string {
	return "settlements"
}

// ToDomain converts the persistence model to a domain Settlement.
func (m *SettlementModel) ToDomain() *trading.Settlement {
	ids := m.TransactionIDs
	if ids == nil {
		ids = make([]uuid.UUID, 0)
	}
	return &trading.Settlement{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		TradeID:           m.TradeID,
		Type:              m.Type,
		Status:            m.Status,
		Attempts:          m.Attempts,
		LastError:         m.LastError,
		TransactionIDs:    ids,
		CompletedAt:       m.CompletedAt,
	}
}

// FromDomain populates the persistence model from a domain Settlement.
func (m *SettlementModel) FromDomain(s *trading.Settlement) {
	m.FromDomainAggregateRoot(s.BaseAggregateRoot)
	m.TradeID = s.TradeID
	m.Type = s.Type
	m.Status = s.Status
	m.Attempts = s.Attempts
	m.LastError = s.LastError
	m.TransactionIDs = s.TransactionIDs
	m.CompletedAt = s.CompletedAt
}

// SettlementModelFromDomain creates a new persistence model from a domain Settlement.
func SettlementModelFromDomain(s *trading.Settlement) *SettlementModel {
	m := &SettlementModel{}
	m.FromDomain(s)
	return m
}
