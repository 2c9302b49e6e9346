package trading

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// TradeStatus represents the status of a trade
type TradeStatus string

const (
	TradeStatusExecuted         TradeStatus = "EXECUTED"
	TradeStatusSettling         TradeStatus = "SETTLING"
	TradeStatusSettled          TradeStatus = "SETTLED"
	TradeStatusSettlementFailed TradeStatus = "SETTLEMENT_FAILED"
	TradeStatusDisputed         TradeStatus = "DISPUTED"
)

// String returns the string representation of TradeStatus
func (s TradeStatus) String() string {
	return string(s)
}

// FeeSchedule prices trading fees in basis points of notional
type FeeSchedule struct {
	RateBps int64
}

// FeeFor returns the fee on a notional, banker's-rounded to the currency scale
func (f FeeSchedule) FeeFor(notional decimal.Decimal, currency valueobject.Currency) decimal.Decimal {
	if f.RateBps <= 0 {
		return decimal.Zero
	}
	return notional.Mul(decimal.New(f.RateBps, -4)).RoundBank(currency.Scale())
}

// Notional returns price × quantity, banker's-rounded to the currency scale
func Notional(price, quantity decimal.Decimal, currency valueobject.Currency) decimal.Decimal {
	return price.Mul(quantity).RoundBank(currency.Scale())
}

// EscrowRequirement is what a BUY LIMIT order locks: the notional at its
// limit price plus the largest fee it can incur
func EscrowRequirement(o *Order, fees FeeSchedule) decimal.Decimal {
	notional := Notional(o.Price, o.Quantity, o.Currency)
	return notional.Add(fees.FeeFor(notional, o.Currency))
}

// Trade is a matched execution between a buy and a sell order
type Trade struct {
	shared.BaseAggregateRoot
	BuyOrderID  uuid.UUID            `json:"buy_order_id"`
	SellOrderID uuid.UUID            `json:"sell_order_id"`
	BuyerID     uuid.UUID            `json:"buyer_id"`
	SellerID    uuid.UUID            `json:"seller_id"`
	MarketID    string               `json:"market_id"`
	Price       decimal.Decimal      `json:"price"`
	Quantity    decimal.Decimal      `json:"quantity"`
	Notional    decimal.Decimal      `json:"notional"`
	Fee         decimal.Decimal      `json:"fee"`
	Currency    valueobject.Currency `json:"currency"`
	Status      TradeStatus          `json:"status"`
	ExecutedAt  time.Time            `json:"executed_at"`
	SettledAt   *time.Time           `json:"settled_at,omitempty"`
}

// NewTrade validates a match and creates an EXECUTED trade. The fee is
// charged to the buyer.
func NewTrade(buy, sell *Order, price, quantity decimal.Decimal, fees FeeSchedule) (*Trade, error) {
	if buy.Side != OrderSideBuy || sell.Side != OrderSideSell {
		return nil, ErrOrderMismatch.WithMessage("Trade needs one buy and one sell order")
	}
	if buy.MarketID != sell.MarketID || buy.Currency != sell.Currency {
		return nil, ErrOrderMismatch.
			WithDetail("buy_order_id", buy.ID.String()).
			WithDetail("sell_order_id", sell.ID.String())
	}
	if !price.IsPositive() || !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_EXECUTION", "Price and quantity must be positive")
	}
	if buy.Type.HasLimitPrice() && price.GreaterThan(buy.Price) {
		return nil, ErrPriceOutsideLimit.WithDetail("order_id", buy.ID.String()).WithDetail("limit", buy.Price.String())
	}
	if sell.Type.HasLimitPrice() && price.LessThan(sell.Price) {
		return nil, ErrPriceOutsideLimit.WithDetail("order_id", sell.ID.String()).WithDetail("limit", sell.Price.String())
	}

	notional := Notional(price, quantity, buy.Currency)
	t := &Trade{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		BuyOrderID:        buy.ID,
		SellOrderID:       sell.ID,
		BuyerID:           buy.UserID,
		SellerID:          sell.UserID,
		MarketID:          buy.MarketID,
		Price:             price,
		Quantity:          quantity,
		Notional:          notional,
		Fee:               fees.FeeFor(notional, buy.Currency),
		Currency:          buy.Currency,
		Status:            TradeStatusExecuted,
		ExecutedAt:        time.Now().UTC(),
	}
	t.AddDomainEvent(NewTradeExecutedEvent(t))
	return t, nil
}

// BuyerCost is what the buyer pays in total
func (t *Trade) BuyerCost() decimal.Decimal {
	return t.Notional.Add(t.Fee)
}

// BeginSettlement moves an executed or failed trade to SETTLING
func (t *Trade) BeginSettlement() error {
	switch t.Status {
	case TradeStatusSettling:
		return nil
	case TradeStatusExecuted, TradeStatusSettlementFailed:
		return t.changeStatus(TradeStatusSettling)
	}
	return t.transitionError(TradeStatusSettling)
}

// MarkSettled completes the trade
func (t *Trade) MarkSettled() error {
	if t.Status != TradeStatusSettling {
		return t.transitionError(TradeStatusSettled)
	}
	now := time.Now().UTC()
	t.SettledAt = &now
	return t.changeStatus(TradeStatusSettled)
}

// MarkSettlementFailed records a retryable settlement failure
func (t *Trade) MarkSettlementFailed() error {
	if t.Status != TradeStatusSettling {
		return t.transitionError(TradeStatusSettlementFailed)
	}
	return t.changeStatus(TradeStatusSettlementFailed)
}

// MarkDisputed ends the trade after its settlement was rolled back
func (t *Trade) MarkDisputed() error {
	if t.Status != TradeStatusSettling && t.Status != TradeStatusSettlementFailed {
		return t.transitionError(TradeStatusDisputed)
	}
	return t.changeStatus(TradeStatusDisputed)
}

func (t *Trade) changeStatus(to TradeStatus) error {
	t.Status = to
	t.IncrementVersion()
	return nil
}

func (t *Trade) transitionError(to TradeStatus) error {
	return ErrTradeTransition.
		WithDetail("trade_id", t.ID.String()).
		WithDetail("from", t.Status.String()).
		WithDetail("to", to.String())
}
