package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

// OrderHandler serves orders and trade reports
type OrderHandler struct {
	BaseHandler
	orders OrderService
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// TradeResponse is a recorded trade with the settlement it opened
type TradeResponse struct {
	Trade      *trading.Trade      `json:"trade"`
	Settlement *trading.Settlement `json:"settlement"`
}

// Place godoc
// @ID           placeOrder
// @Summary      Place an order
// @Description  Buy orders lock price times quantity in escrow; the order is rejected if the wallet cannot cover it.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        request body     dto.PlaceOrderRequest true "Order"
// @Success      201     {object} APIResponse[trading.Order]
// @Failure      400     {object} ErrorResponse
// @Failure      422     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /orders [post]
func (h *OrderHandler) Place(c *gin.Context) {
	var req dto.PlaceOrderRequest
	if !h.bindJSON(c, &req) {
		return
	}
	order, err := h.orders.PlaceOrder(c.Request.Context(), req.ToParams(), actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, order)
}

// Get godoc
// @ID           getOrder
// @Summary      Get an order
// @Tags         orders
// @Produce      json
// @Param        id  path     string true "Order ID" format(uuid)
// @Success      200 {object} APIResponse[trading.Order]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /orders/{id} [get]
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// Accept godoc
// @ID           acceptOrder
// @Summary      Accept a pending order
// @Description  Moves a PENDING order to OPEN so it can be filled.
// @Tags         orders
// @Produce      json
// @Param        id  path     string true "Order ID" format(uuid)
// @Success      200 {object} APIResponse[trading.Order]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /orders/{id}/accept [post]
func (h *OrderHandler) Accept(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.AcceptOrder(c.Request.Context(), id, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// Reject godoc
// @ID           rejectOrder
// @Summary      Reject an unfilled order
// @Description  Releases the whole escrow hold. Orders with fills cannot be rejected.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        id      path     string            true "Order ID" format(uuid)
// @Param        request body     dto.ReasonRequest true "Reason"
// @Success      200     {object} APIResponse[trading.Order]
// @Failure      400     {object} ErrorResponse
// @Failure      404     {object} ErrorResponse
// @Failure      422     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /orders/{id}/reject [post]
func (h *OrderHandler) Reject(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.bindJSON(c, &req) {
		return
	}
	order, err := h.orders.RejectOrder(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// Cancel godoc
// @ID           cancelOrder
// @Summary      Cancel a working order
// @Description  Releases the unfilled part of the escrow hold.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        id      path     string                 true  "Order ID" format(uuid)
// @Param        request body     dto.CancelOrderRequest false "Reason"
// @Success      200     {object} APIResponse[trading.Order]
// @Failure      404     {object} ErrorResponse
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /orders/{id}/cancel [post]
func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req dto.CancelOrderRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	order, err := h.orders.CancelOrder(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// RecordTrade godoc
// @ID           recordTrade
// @Summary      Record an execution between two orders
// @Description  Fills both orders and opens a pending settlement.
// @Tags         trades
// @Accept       json
// @Produce      json
// @Param        request body     dto.RecordTradeRequest true "Execution"
// @Success      201     {object} APIResponse[TradeResponse]
// @Failure      400     {object} ErrorResponse
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /trades [post]
func (h *OrderHandler) RecordTrade(c *gin.Context) {
	var req dto.RecordTradeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.orders.RecordTrade(c.Request.Context(), req.ToRequest(), actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, TradeResponse{Trade: result.Trade, Settlement: result.Settlement})
}

// SettlementHandler settles and rolls back trades
type SettlementHandler struct {
	BaseHandler
	settlements SettlementService
}

// NewSettlementHandler creates a new SettlementHandler
func NewSettlementHandler(settlements SettlementService) *SettlementHandler {
	return &SettlementHandler{settlements: settlements}
}

// Get godoc
// @ID           getSettlement
// @Summary      Get a settlement
// @Tags         settlements
// @Produce      json
// @Param        id  path     string true "Settlement ID" format(uuid)
// @Success      200 {object} APIResponse[trading.Settlement]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /settlements/{id} [get]
func (h *SettlementHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	settlement, err := h.settlements.GetSettlement(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, settlement)
}

// Settle godoc
// @ID           settleTrade
// @Summary      Settle a pending trade
// @Description  Moves cash from the buyer's escrow to the seller and the fee account in one transaction.
// @Tags         settlements
// @Produce      json
// @Param        id  path     string true "Settlement ID" format(uuid)
// @Success      200 {object} APIResponse[trading.Settlement]
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /settlements/{id}/settle [post]
func (h *SettlementHandler) Settle(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	settlement, err := h.settlements.SettleTrade(c.Request.Context(), id, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, settlement)
}

// Rollback godoc
// @ID           rollbackSettlement
// @Summary      Roll back a completed settlement
// @Description  Reverses every posting of the settlement and marks it ROLLED_BACK.
// @Tags         settlements
// @Accept       json
// @Produce      json
// @Param        id      path     string            true "Settlement ID" format(uuid)
// @Param        request body     dto.ReasonRequest true "Reason"
// @Success      200     {object} APIResponse[trading.Settlement]
// @Failure      404     {object} ErrorResponse
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /settlements/{id}/rollback [post]
func (h *SettlementHandler) Rollback(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.bindJSON(c, &req) {
		return
	}
	settlement, err := h.settlements.RollBackSettlement(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, settlement)
}
