package trading

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func limitParams(side OrderSide, price, qty string) OrderParams {
	return OrderParams{
		UserID:          uuid.New(),
		MarketID:        "ELECTION-2028",
		Side:            side,
		Type:            OrderTypeLimit,
		TimeInForce:     TimeInForceGTC,
		Price:           dec(price),
		Quantity:        dec(qty),
		Currency:        valueobject.USD,
		WalletAccountID: uuid.New(),
	}
}

func openOrder(t *testing.T, side OrderSide, price, qty string) *Order {
	t.Helper()
	o, err := NewOrder(limitParams(side, price, qty))
	require.NoError(t, err)
	require.NoError(t, o.Accept())
	return o
}

func TestNewOrder_Validation(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name     string
		mutate   func(p *OrderParams)
		wantCode string
	}{
		{"valid limit", func(p *OrderParams) {}, ""},
		{"zero quantity", func(p *OrderParams) { p.Quantity = decimal.Zero }, "INVALID_QUANTITY"},
		{"limit without price", func(p *OrderParams) { p.Price = decimal.Zero }, "INVALID_PRICE"},
		{"market with price", func(p *OrderParams) { p.Type = OrderTypeMarket }, "INVALID_PRICE"},
		{"market without price", func(p *OrderParams) {
			p.Type = OrderTypeMarket
			p.Price = decimal.Zero
		}, ""},
		{"stop without stop price", func(p *OrderParams) {
			p.Type = OrderTypeStop
			p.Price = decimal.Zero
		}, "INVALID_STOP_PRICE"},
		{"stop limit with both", func(p *OrderParams) {
			p.Type = OrderTypeStopLimit
			p.StopPrice = dec("0.60")
		}, ""},
		{"gtd in the past", func(p *OrderParams) {
			p.TimeInForce = TimeInForceGTD
			p.ExpiresAt = &past
		}, "INVALID_EXPIRY"},
		{"gtd in the future", func(p *OrderParams) {
			p.TimeInForce = TimeInForceGTD
			p.ExpiresAt = &future
		}, ""},
		{"expiry without gtd", func(p *OrderParams) { p.ExpiresAt = &future }, "INVALID_EXPIRY"},
		{"bad side", func(p *OrderParams) { p.Side = "HOLD" }, "INVALID_SIDE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := limitParams(OrderSideBuy, "0.65", "10")
			tt.mutate(&p)
			o, err := NewOrder(p)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, OrderStatusPending, o.Status)
				return
			}
			de, ok := shared.AsDomainError(err)
			require.True(t, ok, "expected domain error, got %v", err)
			assert.Equal(t, tt.wantCode, de.Code)
		})
	}
}

func TestOrder_FillLifecycle(t *testing.T) {
	o := openOrder(t, OrderSideBuy, "0.65", "10")

	require.NoError(t, o.ApplyFill(dec("4")))
	assert.Equal(t, OrderStatusPartialFill, o.Status)
	assert.True(t, o.RemainingQuantity().Equal(dec("6")))

	err := o.ApplyFill(dec("7"))
	assert.True(t, errors.Is(err, ErrOverfill))

	require.NoError(t, o.ApplyFill(dec("6")))
	assert.Equal(t, OrderStatusFilled, o.Status)

	require.NoError(t, o.MarkSettled(dec("4")))
	assert.Equal(t, OrderStatusFilled, o.Status)
	require.NoError(t, o.MarkSettled(dec("6")))
	assert.Equal(t, OrderStatusSettled, o.Status)
	assert.True(t, o.Status.IsTerminal())
}

func TestOrder_MarkRolledBack(t *testing.T) {
	tests := []struct {
		name       string
		fills      []string
		settle     string
		rollBack   string
		wantStatus OrderStatus
	}{
		{name: "only fill written off", fills: []string{"10"}, rollBack: "10", wantStatus: OrderStatusCancelled},
		{name: "rest already settled", fills: []string{"4", "6"}, settle: "4", rollBack: "6", wantStatus: OrderStatusSettled},
		{name: "still working", fills: []string{"4"}, rollBack: "4", wantStatus: OrderStatusPartialFill},
		{name: "other fill pending", fills: []string{"4", "6"}, rollBack: "6", wantStatus: OrderStatusFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := openOrder(t, OrderSideBuy, "0.65", "10")
			for _, f := range tt.fills {
				require.NoError(t, o.ApplyFill(dec(f)))
			}
			if tt.settle != "" {
				require.NoError(t, o.MarkSettled(dec(tt.settle)))
			}
			require.NoError(t, o.MarkRolledBack(dec(tt.rollBack), "busted"))
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.True(t, o.RolledBackQuantity.Equal(dec(tt.rollBack)))
		})
	}

	t.Run("cannot exceed unsettled", func(t *testing.T) {
		o := openOrder(t, OrderSideBuy, "0.65", "10")
		require.NoError(t, o.ApplyFill(dec("10")))
		require.NoError(t, o.MarkSettled(dec("7")))
		assert.Error(t, o.MarkRolledBack(dec("4"), "busted"))
		assert.Error(t, o.MarkRolledBack(decimal.Zero, "busted"))
		assert.Error(t, o.MarkSettled(dec("4")))
	})
}

func TestOrder_AbsorbingStates(t *testing.T) {
	t.Run("partially filled order can be cancelled but not rejected", func(t *testing.T) {
		o := openOrder(t, OrderSideSell, "0.65", "10")
		require.NoError(t, o.ApplyFill(dec("1")))

		assert.True(t, errors.Is(o.Reject("risk"), ErrOrderTransition))
		require.NoError(t, o.Cancel("user"))
		assert.Equal(t, OrderStatusCancelled, o.Status)
		assert.True(t, o.FilledQuantity.Equal(dec("1")))
	})

	t.Run("terminal orders stay terminal", func(t *testing.T) {
		o := openOrder(t, OrderSideBuy, "0.65", "10")
		require.NoError(t, o.Reject("risk"))
		assert.True(t, errors.Is(o.Cancel("user"), ErrOrderTransition))
		assert.True(t, errors.Is(o.ApplyFill(dec("1")), ErrOrderTransition))
	})

	t.Run("expiry only for due gtd orders", func(t *testing.T) {
		expires := time.Now().Add(time.Minute)
		p := limitParams(OrderSideBuy, "0.65", "10")
		p.TimeInForce = TimeInForceGTD
		p.ExpiresAt = &expires
		o, err := NewOrder(p)
		require.NoError(t, err)

		assert.Error(t, o.Expire(time.Now()))
		require.NoError(t, o.Expire(expires.Add(time.Second)))
		assert.Equal(t, OrderStatusExpired, o.Status)
	})
}

func TestOrder_LocksEscrow(t *testing.T) {
	buy, err := NewOrder(limitParams(OrderSideBuy, "0.65", "10"))
	require.NoError(t, err)
	sell, err := NewOrder(limitParams(OrderSideSell, "0.65", "10"))
	require.NoError(t, err)

	assert.True(t, buy.LocksEscrow())
	assert.False(t, sell.LocksEscrow())
	assert.True(t, EscrowRequirement(buy, FeeSchedule{RateBps: 100}).Equal(dec("6.56")))
}
