package trading_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
)

func TestOrderService_PlaceOrder(t *testing.T) {
	ctx := context.Background()
	d := newTestDesk(t, trading.SettlementTypeStandard)
	buyer := d.wallet(t, "1000")

	t.Run("buy limit locks notional plus fee", func(t *testing.T) {
		order, err := d.orders.PlaceOrder(ctx, orderParams(buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "2", "100"), testActor)
		require.NoError(t, err)
		assert.Equal(t, trading.OrderStatusPending, order.Status)
		require.NotNil(t, order.HoldID)

		hold := d.hold(t, *order.HoldID)
		assert.True(t, dec("200.20").Equal(hold.Amount))
		assert.Equal(t, ledger.ReferenceOrder, hold.Reference.Type)
		assert.True(t, dec("799.80").Equal(d.available(t, buyer.ID)))
		assert.Equal(t, int64(1), d.count(t, &models.AuditEntryModel{}, "entity_id = ? AND action = ?", order.ID.String(), audit.ActionOrderPlaced.String()))
	})

	t.Run("sell orders lock nothing", func(t *testing.T) {
		seller := d.wallet(t, "0")
		order, err := d.orders.PlaceOrder(ctx, orderParams(seller, trading.OrderSideSell, trading.OrderTypeLimit, "1", "100"), testActor)
		require.NoError(t, err)
		assert.Nil(t, order.HoldID)
	})

	t.Run("insufficient funds writes nothing", func(t *testing.T) {
		before := d.count(t, &models.OrderModel{})
		_, err := d.orders.PlaceOrder(ctx, orderParams(buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "20", "100"), testActor)
		assert.True(t, errors.Is(err, ledger.ErrInsufficientBalance))
		assert.Equal(t, before, d.count(t, &models.OrderModel{}))
		assert.True(t, dec("799.80").Equal(d.available(t, buyer.ID)))
	})

	t.Run("wallet must belong to the user", func(t *testing.T) {
		params := orderParams(buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "1", "1")
		params.UserID = uuid.New()
		_, err := d.orders.PlaceOrder(ctx, params, testActor)
		assert.True(t, errors.Is(err, ledger.ErrInvalidAccountType))
	})

	t.Run("invalid params", func(t *testing.T) {
		_, err := d.orders.PlaceOrder(ctx, orderParams(buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "0", "100"), testActor)
		assert.Error(t, err)
	})
}

func TestOrderService_CancelReleasesEscrow(t *testing.T) {
	ctx := context.Background()
	d := newTestDesk(t, trading.SettlementTypeStandard)
	buyer := d.wallet(t, "500")
	order := d.place(t, buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "3", "100")
	assert.True(t, dec("199.70").Equal(d.available(t, buyer.ID)))

	cancelled, err := d.orders.CancelOrder(ctx, order.ID, "changed my mind", testActor)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatusCancelled, cancelled.Status)
	assert.True(t, dec("500").Equal(d.available(t, buyer.ID)))
	assert.Equal(t, ledger.HoldStatusReleased, d.hold(t, *order.HoldID).Status)

	_, err = d.orders.CancelOrder(ctx, order.ID, "again", testActor)
	assert.True(t, errors.Is(err, trading.ErrOrderTransition))
}

func TestOrderService_RejectOrder(t *testing.T) {
	ctx := context.Background()
	d := newTestDesk(t, trading.SettlementTypeStandard)
	buyer := d.wallet(t, "100")

	order, err := d.orders.PlaceOrder(ctx, orderParams(buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "1", "50"), testActor)
	require.NoError(t, err)
	rejected, err := d.orders.RejectOrder(ctx, order.ID, "risk limit", testActor)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatusRejected, rejected.Status)
	assert.Equal(t, "risk limit", rejected.StatusReason)
	assert.True(t, dec("100").Equal(d.available(t, buyer.ID)))
	assert.Equal(t, int64(1), d.count(t, &models.AuditEntryModel{}, "entity_id = ? AND action = ?", order.ID.String(), audit.ActionOrderRejected.String()))
}

func TestOrderService_ExpireOrders(t *testing.T) {
	ctx := context.Background()
	d := newTestDesk(t, trading.SettlementTypeStandard)
	buyer := d.wallet(t, "100")

	expiry := time.Now().UTC().Add(time.Hour)
	params := orderParams(buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "1", "10")
	params.TimeInForce = trading.TimeInForceGTD
	params.ExpiresAt = &expiry
	order, err := d.orders.PlaceOrder(ctx, params, testActor)
	require.NoError(t, err)
	d.place(t, buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "1", "10")

	expired, err := d.orders.ExpireOrders(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	expired, err = d.orders.ExpireOrders(ctx, expiry.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := d.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatusExpired, stored.Status)
	assert.True(t, dec("89.99").Equal(d.available(t, buyer.ID)))
}

func TestOrderService_RecordTrade(t *testing.T) {
	ctx := context.Background()
	d := newTestDesk(t, trading.SettlementTypeStandard)
	buyer := d.wallet(t, "1000")
	seller := d.wallet(t, "0")
	buy := d.place(t, buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "4", "100")
	sell := d.place(t, seller, trading.OrderSideSell, trading.OrderTypeLimit, "4", "95")

	tests := []struct {
		name string
		req  apptrading.RecordTradeRequest
		err  error
	}{
		{"above buy limit", apptrading.RecordTradeRequest{BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: dec("101"), Quantity: dec("1")}, trading.ErrPriceOutsideLimit},
		{"below sell limit", apptrading.RecordTradeRequest{BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: dec("94"), Quantity: dec("1")}, trading.ErrPriceOutsideLimit},
		{"overfill", apptrading.RecordTradeRequest{BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: dec("98"), Quantity: dec("5")}, trading.ErrOverfill},
		{"same order", apptrading.RecordTradeRequest{BuyOrderID: buy.ID, SellOrderID: buy.ID, Price: dec("98"), Quantity: dec("1")}, trading.ErrOrderMismatch},
		{"sides swapped", apptrading.RecordTradeRequest{BuyOrderID: sell.ID, SellOrderID: buy.ID, Price: dec("98"), Quantity: dec("1")}, trading.ErrOrderMismatch},
		{"unknown order", apptrading.RecordTradeRequest{BuyOrderID: uuid.New(), SellOrderID: sell.ID, Price: dec("98"), Quantity: dec("1")}, trading.ErrOrderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.orders.RecordTrade(ctx, tt.req, testActor)
			assert.True(t, errors.Is(err, tt.err), "got %v", err)
		})
	}
	assert.Equal(t, int64(0), d.count(t, &models.TradeModel{}))

	result, err := d.orders.RecordTrade(ctx, apptrading.RecordTradeRequest{
		BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: dec("98"), Quantity: dec("1"),
	}, testActor)
	require.NoError(t, err)
	assert.True(t, dec("98").Equal(result.Trade.Notional))
	assert.True(t, dec("0.10").Equal(result.Trade.Fee))
	assert.Equal(t, trading.SettlementStatusPending, result.Settlement.Status)

	stored, err := d.orders.GetOrder(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatusPartialFill, stored.Status)
	assert.True(t, dec("1").Equal(stored.FilledQuantity))
	assert.Equal(t, int64(1), d.count(t, &models.SettlementModel{}, "trade_id = ?", result.Trade.ID.String()))
}

func TestOrderService_RecordTradeRequiresWorkingOrders(t *testing.T) {
	ctx := context.Background()
	d := newTestDesk(t, trading.SettlementTypeStandard)
	buyer := d.wallet(t, "1000")
	seller := d.wallet(t, "0")

	buy, err := d.orders.PlaceOrder(ctx, orderParams(buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "1", "100"), testActor)
	require.NoError(t, err)
	sell := d.place(t, seller, trading.OrderSideSell, trading.OrderTypeMarket, "1", "")

	_, err = d.orders.RecordTrade(ctx, apptrading.RecordTradeRequest{
		BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: dec("100"), Quantity: dec("1"),
	}, testActor)
	assert.True(t, errors.Is(err, trading.ErrOrderTransition))
}

func TestOrderService_CancelAfterPartialFillKeepsReserve(t *testing.T) {
	ctx := context.Background()
	d := newTestDesk(t, trading.SettlementTypeStandard)
	buyer := d.wallet(t, "1000")
	seller := d.wallet(t, "0")
	buy := d.place(t, buyer, trading.OrderSideBuy, trading.OrderTypeLimit, "4", "100")
	sell := d.place(t, seller, trading.OrderSideSell, trading.OrderTypeLimit, "4", "100")

	result, err := d.orders.RecordTrade(ctx, apptrading.RecordTradeRequest{
		BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: dec("100"), Quantity: dec("1"),
	}, testActor)
	require.NoError(t, err)

	cancelled, err := d.orders.CancelOrder(ctx, buy.ID, "done", testActor)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatusCancelled, cancelled.Status)
	assert.True(t, dec("1").Equal(cancelled.FilledQuantity))

	hold := d.hold(t, *buy.HoldID)
	assert.True(t, hold.IsActive())
	assert.True(t, dec("100.10").Equal(hold.Remaining))
	assert.True(t, dec("899.90").Equal(d.available(t, buyer.ID)))

	settlement, err := d.settlements.SettleTrade(ctx, result.Settlement.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, trading.SettlementStatusCompleted, settlement.Status)
	assert.Equal(t, ledger.HoldStatusForfeited, d.hold(t, *buy.HoldID).Status)
	assert.True(t, dec("899.90").Equal(d.available(t, buyer.ID)))
	assert.True(t, dec("100").Equal(d.available(t, seller.ID)))
}
