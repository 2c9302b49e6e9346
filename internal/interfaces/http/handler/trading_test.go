package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/auth"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

func setupTradingRouter(orders *mockOrderService, settlements *mockSettlementService, mw ...gin.HandlerFunc) *gin.Engine {
	oh := NewOrderHandler(orders)
	sh := NewSettlementHandler(settlements)
	r := gin.New()
	r.Use(mw...)
	r.POST("/orders", oh.Place)
	r.GET("/orders/:id", oh.Get)
	r.POST("/orders/:id/accept", oh.Accept)
	r.POST("/orders/:id/reject", oh.Reject)
	r.POST("/orders/:id/cancel", oh.Cancel)
	r.POST("/trades", oh.RecordTrade)
	r.GET("/settlements/:id", sh.Get)
	r.POST("/settlements/:id/settle", sh.Settle)
	r.POST("/settlements/:id/rollback", sh.Rollback)
	return r
}

func newTestOrder(status trading.OrderStatus) *trading.Order {
	o := &trading.Order{
		UserID:   uuid.New(),
		MarketID: "BTC-USD",
		Side:     trading.OrderSideBuy,
		Type:     trading.OrderTypeLimit,
		Status:   status,
	}
	o.ID = uuid.New()
	return o
}

func newTestSettlement(status trading.SettlementStatus) *trading.Settlement {
	s := &trading.Settlement{TradeID: uuid.New(), Status: status}
	s.ID = uuid.New()
	return s
}

func TestOrderHandler_Place(t *testing.T) {
	user, wallet := uuid.New(), uuid.New()
	limitBuy := dto.PlaceOrderRequest{
		UserID:          user.String(),
		MarketID:        "BTC-USD",
		Side:            "BUY",
		Type:            "LIMIT",
		Price:           "25000",
		Quantity:        "0.5",
		Currency:        "USD",
		WalletAccountID: wallet.String(),
	}

	t.Run("limit buy defaults to GTC", func(t *testing.T) {
		orders := new(mockOrderService)
		router := setupTradingRouter(orders, nil, withClaims("ops-1", auth.RoleAdmin))
		orders.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(p trading.OrderParams) bool {
			return p.UserID == user &&
				p.TimeInForce == trading.TimeInForceGTC &&
				p.Price.Equal(decimal.NewFromInt(25000)) &&
				p.Quantity.Equal(decimal.RequireFromString("0.5")) &&
				p.StopPrice.IsZero()
		}), audit.AdminActor("ops-1")).Return(newTestOrder(trading.OrderStatusOpen), nil)

		w := performRequest(router, http.MethodPost, "/orders", limitBuy)

		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		orders.AssertExpectations(t)
	})

	t.Run("escrow shortfall", func(t *testing.T) {
		orders := new(mockOrderService)
		router := setupTradingRouter(orders, nil)
		orders.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrInsufficientBalance)

		w := performRequest(router, http.MethodPost, "/orders", limitBuy)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeInsufficientBalance, decodeResponse(t, w).Error.Code)
	})

	invalid := []struct {
		name   string
		mutate func(r *dto.PlaceOrderRequest)
	}{
		{name: "unknown side", mutate: func(r *dto.PlaceOrderRequest) { r.Side = "HOLD" }},
		{name: "zero quantity", mutate: func(r *dto.PlaceOrderRequest) { r.Quantity = "0" }},
		{name: "bad price", mutate: func(r *dto.PlaceOrderRequest) { r.Price = "cheap" }},
		{name: "unknown currency", mutate: func(r *dto.PlaceOrderRequest) { r.Currency = "NOPE" }},
		{name: "missing wallet", mutate: func(r *dto.PlaceOrderRequest) { r.WalletAccountID = "" }},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			orders := new(mockOrderService)
			router := setupTradingRouter(orders, nil)
			req := limitBuy
			tt.mutate(&req)

			w := performRequest(router, http.MethodPost, "/orders", req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, orders.Calls)
		})
	}
}

func TestOrderHandler_GetAndCancel(t *testing.T) {
	orders := new(mockOrderService)
	router := setupTradingRouter(orders, nil)
	order := newTestOrder(trading.OrderStatusOpen)
	orders.On("GetOrder", mock.Anything, order.ID).Return(order, nil)

	w := performRequest(router, http.MethodGet, "/orders/"+order.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	t.Run("cancel without a body", func(t *testing.T) {
		orders.On("CancelOrder", mock.Anything, order.ID, "", audit.SystemActor("http")).
			Return(newTestOrder(trading.OrderStatusCancelled), nil).Once()

		w := performRequest(router, http.MethodPost, "/orders/"+order.ID.String()+"/cancel", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cancel with a reason", func(t *testing.T) {
		orders.On("CancelOrder", mock.Anything, order.ID, "user request", mock.Anything).
			Return(newTestOrder(trading.OrderStatusCancelled), nil).Once()

		w := performRequest(router, http.MethodPost, "/orders/"+order.ID.String()+"/cancel",
			dto.CancelOrderRequest{Reason: "user request"})

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("accept", func(t *testing.T) {
		orders.On("AcceptOrder", mock.Anything, order.ID, audit.SystemActor("http")).
			Return(newTestOrder(trading.OrderStatusOpen), nil).Once()

		w := performRequest(router, http.MethodPost, "/orders/"+order.ID.String()+"/accept", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("reject requires a reason", func(t *testing.T) {
		w := performRequest(router, http.MethodPost, "/orders/"+order.ID.String()+"/reject", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reject a partially filled order", func(t *testing.T) {
		orders.On("RejectOrder", mock.Anything, order.ID, "risk limit", mock.Anything).
			Return(nil, trading.ErrOrderTransition).Once()

		w := performRequest(router, http.MethodPost, "/orders/"+order.ID.String()+"/reject",
			dto.ReasonRequest{Reason: "risk limit"})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("cancel a filled order", func(t *testing.T) {
		filled := uuid.New()
		orders.On("CancelOrder", mock.Anything, filled, "", mock.Anything).Return(nil, trading.ErrOrderTransition)

		w := performRequest(router, http.MethodPost, "/orders/"+filled.String()+"/cancel", nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "INVALID_ORDER_TRANSITION", decodeResponse(t, w).Error.Reason)
	})

	orders.AssertExpectations(t)
}

func TestOrderHandler_RecordTrade(t *testing.T) {
	buy, sell := uuid.New(), uuid.New()

	t.Run("returns the trade with its settlement", func(t *testing.T) {
		orders := new(mockOrderService)
		router := setupTradingRouter(orders, nil)
		trade := &trading.Trade{BuyOrderID: buy, SellOrderID: sell, MarketID: "BTC-USD"}
		trade.ID = uuid.New()
		settlement := newTestSettlement(trading.SettlementStatusPending)
		orders.On("RecordTrade", mock.Anything, apptrading.RecordTradeRequest{
			BuyOrderID:  buy,
			SellOrderID: sell,
			Price:       decimal.RequireFromString("101.25"),
			Quantity:    decimal.RequireFromString("2"),
		}, mock.Anything).Return(&apptrading.TradeResult{Trade: trade, Settlement: settlement}, nil)

		w := performRequest(router, http.MethodPost, "/trades", dto.RecordTradeRequest{
			BuyOrderID:  buy.String(),
			SellOrderID: sell.String(),
			Price:       "101.25",
			Quantity:    "2",
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var body struct {
			Trade      json.RawMessage `json:"trade"`
			Settlement json.RawMessage `json:"settlement"`
		}
		require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &body))
		assert.NotEmpty(t, body.Trade)
		assert.NotEmpty(t, body.Settlement)
	})

	t.Run("same order on both sides", func(t *testing.T) {
		router := setupTradingRouter(new(mockOrderService), nil)
		w := performRequest(router, http.MethodPost, "/trades", dto.RecordTradeRequest{
			BuyOrderID:  buy.String(),
			SellOrderID: buy.String(),
			Price:       "1",
			Quantity:    "1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("overfill", func(t *testing.T) {
		orders := new(mockOrderService)
		router := setupTradingRouter(orders, nil)
		orders.On("RecordTrade", mock.Anything, mock.Anything, mock.Anything).Return(nil, trading.ErrOverfill)

		w := performRequest(router, http.MethodPost, "/trades", dto.RecordTradeRequest{
			BuyOrderID:  buy.String(),
			SellOrderID: sell.String(),
			Price:       "1",
			Quantity:    "1000",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "OVERFILL", decodeResponse(t, w).Error.Reason)
	})
}

func TestSettlementHandler(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		settlements := new(mockSettlementService)
		router := setupTradingRouter(nil, settlements)
		s := newTestSettlement(trading.SettlementStatusCompleted)
		settlements.On("GetSettlement", mock.Anything, s.ID).Return(s, nil)

		w := performRequest(router, http.MethodGet, "/settlements/"+s.ID.String(), nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("settle as admin", func(t *testing.T) {
		settlements := new(mockSettlementService)
		router := setupTradingRouter(nil, settlements, withClaims("ops-9", auth.RoleAdmin))
		id := uuid.New()
		settlements.On("SettleTrade", mock.Anything, id, audit.AdminActor("ops-9")).
			Return(newTestSettlement(trading.SettlementStatusCompleted), nil)

		w := performRequest(router, http.MethodPost, "/settlements/"+id.String()+"/settle", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		settlements.AssertExpectations(t)
	})

	t.Run("settlement failure is a processing error", func(t *testing.T) {
		settlements := new(mockSettlementService)
		router := setupTradingRouter(nil, settlements)
		settlements.On("SettleTrade", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, trading.ErrSettlementFailed.WithDetail("cause", "insufficient escrow"))

		w := performRequest(router, http.MethodPost, "/settlements/"+uuid.NewString()+"/settle", nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeProcessing, resp.Error.Code)
		assert.Equal(t, "insufficient escrow", resp.Error.Details["cause"])
	})

	t.Run("rollback requires a reason", func(t *testing.T) {
		settlements := new(mockSettlementService)
		router := setupTradingRouter(nil, settlements)

		w := performRequest(router, http.MethodPost, "/settlements/"+uuid.NewString()+"/rollback", map[string]string{})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, settlements.Calls)
	})

	t.Run("rollback", func(t *testing.T) {
		settlements := new(mockSettlementService)
		router := setupTradingRouter(nil, settlements)
		id := uuid.New()
		settlements.On("RollBackSettlement", mock.Anything, id, "trade busted", mock.Anything).
			Return(newTestSettlement(trading.SettlementStatusRolledBack), nil)

		w := performRequest(router, http.MethodPost, "/settlements/"+id.String()+"/rollback",
			dto.ReasonRequest{Reason: "trade busted"})

		assert.Equal(t, http.StatusOK, w.Code)
		settlements.AssertExpectations(t)
	})
}
