package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/domain/trading"
)

// PlaceOrderRequest submits an order on behalf of a user
type PlaceOrderRequest struct {
	UserID          string     `json:"user_id" binding:"required,uuid"`
	MarketID        string     `json:"market_id" binding:"required,max=64"`
	Side            string     `json:"side" binding:"required,oneof=BUY SELL"`
	Type            string     `json:"type" binding:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	TimeInForce     string     `json:"time_in_force" binding:"omitempty,oneof=GTC IOC FOK GTD"`
	Price           string     `json:"price" binding:"omitempty,decimal"`
	StopPrice       string     `json:"stop_price" binding:"omitempty,decimal"`
	Quantity        string     `json:"quantity" binding:"required,decimal"`
	Currency        string     `json:"currency" binding:"required,currency"`
	WalletAccountID string     `json:"wallet_account_id" binding:"required,uuid"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

// ToParams converts the body into order params
func (r PlaceOrderRequest) ToParams() trading.OrderParams {
	tif := trading.TimeInForce(r.TimeInForce)
	if tif == "" {
		tif = trading.TimeInForceGTC
	}
	return trading.OrderParams{
		UserID:          uuid.MustParse(r.UserID),
		MarketID:        r.MarketID,
		Side:            trading.OrderSide(r.Side),
		Type:            trading.OrderType(r.Type),
		TimeInForce:     tif,
		Price:           optionalDecimal(r.Price),
		StopPrice:       optionalDecimal(r.StopPrice),
		Quantity:        decimal.RequireFromString(r.Quantity),
		Currency:        valueobject.Currency(r.Currency),
		WalletAccountID: uuid.MustParse(r.WalletAccountID),
		ExpiresAt:       r.ExpiresAt,
	}
}

// CancelOrderRequest cancels a working order
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// RecordTradeRequest reports an execution between two working orders
type RecordTradeRequest struct {
	BuyOrderID  string `json:"buy_order_id" binding:"required,uuid"`
	SellOrderID string `json:"sell_order_id" binding:"required,uuid,nefield=BuyOrderID"`
	Price       string `json:"price" binding:"required,decimal"`
	Quantity    string `json:"quantity" binding:"required,decimal"`
}

// ToRequest converts the body into the service request
func (r RecordTradeRequest) ToRequest() apptrading.RecordTradeRequest {
	return apptrading.RecordTradeRequest{
		BuyOrderID:  uuid.MustParse(r.BuyOrderID),
		SellOrderID: uuid.MustParse(r.SellOrderID),
		Price:       decimal.RequireFromString(r.Price),
		Quantity:    decimal.RequireFromString(r.Quantity),
	}
}

// ReconcileRequest starts or reuses a reconciliation run. An empty source
// list reconciles against every configured source.
type ReconcileRequest struct {
	Type    string    `json:"type" binding:"required,oneof=BALANCE TRADE"`
	Start   time.Time `json:"start" binding:"required"`
	End     time.Time `json:"end" binding:"required,gtfield=Start"`
	Sources []string  `json:"sources" binding:"omitempty,dive,required,max=64"`
}

// Window converts the body into a reconciliation window
func (r ReconcileRequest) Window() (reconciliation.Window, error) {
	return reconciliation.NewWindow(r.Start, r.End)
}

// RunListQuery filters the reconciliation run listing
type RunListQuery struct {
	ListRequest
	Type   string `form:"type" binding:"omitempty,oneof=BALANCE TRADE"`
	Status string `form:"status" binding:"omitempty,oneof=RUNNING CLEAN DISCREPANCIES_FOUND DISCREPANCIES_RESOLVED ERROR"`
}

// ToFilter converts the query into a repository filter
func (q RunListQuery) ToFilter() reconciliation.RunFilter {
	return reconciliation.RunFilter{
		Filter: q.ListRequest.Filter(),
		Type:   reconciliation.RunType(q.Type),
		Status: reconciliation.RunStatus(q.Status),
	}
}

// ReconcileResponse is a run and whether an earlier completed run was returned
type ReconcileResponse struct {
	Run    *reconciliation.Run `json:"run"`
	Reused bool                `json:"reused"`
}

// AuditQuery filters the audit trail
type AuditQuery struct {
	ListRequest
	Action     string     `form:"action"`
	ActorID    string     `form:"actor_id" binding:"omitempty,max=255"`
	EntityType string     `form:"entity_type" binding:"omitempty,max=64"`
	EntityID   string     `form:"entity_id" binding:"omitempty,uuid"`
	From       *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// ToFilter converts the query into an audit filter
func (q AuditQuery) ToFilter() audit.Filter {
	f := audit.Filter{
		Filter:     q.ListRequest.Filter(),
		Action:     audit.Action(q.Action),
		ActorID:    q.ActorID,
		EntityType: q.EntityType,
		From:       q.From,
		To:         q.To,
	}
	if q.EntityID != "" {
		id := uuid.MustParse(q.EntityID)
		f.EntityID = &id
	}
	return f
}

// DeadLetterQuery bounds the dead-letter listing
type DeadLetterQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// RetryAllResponse reports how many dead letters were requeued
type RetryAllResponse struct {
	Requeued int `json:"requeued"`
}

func optionalDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}
