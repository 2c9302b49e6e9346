package trading

import "github.com/tradeledger/backend/internal/domain/shared"

var (
	ErrOrderNotFound      = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "ORDER_NOT_FOUND", "Order not found")
	ErrTradeNotFound      = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "TRADE_NOT_FOUND", "Trade not found")
	ErrSettlementNotFound = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "SETTLEMENT_NOT_FOUND", "Settlement not found")

	ErrOrderTransition      = shared.NewDomainErrorOfKind(shared.ErrorKindState, "INVALID_ORDER_TRANSITION", "Order status transition is not allowed")
	ErrTradeTransition      = shared.NewDomainErrorOfKind(shared.ErrorKindState, "INVALID_TRADE_TRANSITION", "Trade status transition is not allowed")
	ErrSettlementTransition = shared.NewDomainErrorOfKind(shared.ErrorKindState, "INVALID_SETTLEMENT_TRANSITION", "Settlement status transition is not allowed")

	ErrOverfill          = shared.NewDomainError("OVERFILL", "Fill exceeds the remaining order quantity")
	ErrOrderMismatch     = shared.NewDomainError("ORDER_MISMATCH", "Orders cannot be matched against each other")
	ErrPriceOutsideLimit = shared.NewDomainError("PRICE_OUTSIDE_LIMIT", "Execution price violates an order limit")
	ErrSettlementFailed  = shared.NewDomainErrorOfKind(shared.ErrorKindProcessing, "SETTLEMENT_FAILED", "Settlement could not be completed")
)
