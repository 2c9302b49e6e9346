package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	apprecon "github.com/tradeledger/backend/internal/application/reconciliation"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/event"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var deskActor = audit.AdminActor("ops@example.com")

// ledgerStack wires the application services over a real database
type ledgerStack struct {
	DB          *TestDB
	Scope       *persistence.GormExecutor
	Accounts    *appledger.AccountService
	Balances    *appledger.BalanceService
	Queries     *appledger.QueryService
	Postings    *appledger.PostingService
	Orders      *apptrading.OrderService
	Settlements *apptrading.SettlementService
	Logger      *zap.Logger
}

func newLedgerStack(t *testing.T, settlementType trading.SettlementType) *ledgerStack {
	t.Helper()
	tdb := NewTestDB(t)
	log := zaptest.NewLogger(t)

	scope := persistence.NewGormExecutor(tdb.DB,
		persistence.WithExecutorConfig(persistence.ExecutorConfig{MaxRetries: 20, BaseDelay: 2 * time.Millisecond, MaxJitter: 5 * time.Millisecond}),
		persistence.WithExecutorLogger(log),
		persistence.WithEventSerializer(event.NewEventSerializer()),
	)
	postings := appledger.NewPostingService(scope, nil, nil, nil, log)
	settlements := apptrading.NewSettlementService(scope, postings, nil, apptrading.DefaultSettlementConfig(), log)
	orders := apptrading.NewOrderService(scope, postings, apptrading.Config{
		Fees:           trading.FeeSchedule{RateBps: 10},
		SettlementType: settlementType,
	}, log)
	orders.SetSettler(settlements)

	return &ledgerStack{
		DB:          tdb,
		Scope:       scope,
		Accounts:    appledger.NewAccountService(scope, log),
		Balances:    appledger.NewBalanceService(scope, nil, appledger.DefaultBalanceServiceConfig(), log),
		Queries:     appledger.NewQueryService(scope, log),
		Postings:    postings,
		Orders:      orders,
		Settlements: settlements,
		Logger:      log,
	}
}

func (s *ledgerStack) openWallet(t *testing.T, funds string) *ledger.Account {
	t.Helper()
	ctx := context.Background()
	owner := uuid.New()
	wallet, err := s.Accounts.OpenUserAccount(ctx, appledger.OpenAccountRequest{
		OwnerID: owner, Type: ledger.AccountTypeUserWallet, Currency: valueobject.USD,
	}, audit.UserActor(owner))
	require.NoError(t, err)
	if funds != "0" {
		_, err = s.Postings.Deposit(ctx, appledger.ExternalMovementRequest{
			WalletAccountID: wallet.ID,
			Amount:          amount(funds),
			IdempotencyKey:  "fund-" + wallet.ID.String(),
		}, deskActor)
		require.NoError(t, err)
	}
	return wallet
}

func (s *ledgerStack) available(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	view, err := s.Balances.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return view.Available
}

func (s *ledgerStack) workingOrder(t *testing.T, wallet *ledger.Account, side trading.OrderSide, qty, price string) *trading.Order {
	t.Helper()
	ctx := context.Background()
	order, err := s.Orders.PlaceOrder(ctx, trading.OrderParams{
		UserID:          *wallet.OwnerID,
		MarketID:        "ETH-USD",
		Side:            side,
		Type:            trading.OrderTypeLimit,
		TimeInForce:     trading.TimeInForceGTC,
		Quantity:        amount(qty),
		Price:           amount(price),
		Currency:        valueobject.USD,
		WalletAccountID: wallet.ID,
	}, deskActor)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatusPending, order.Status)
	order, err = s.Orders.AcceptOrder(ctx, order.ID, deskActor)
	require.NoError(t, err)
	return order
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mapSource answers balance and trade questions from fixed maps
type mapSource struct {
	name     string
	balances map[uuid.UUID]decimal.Decimal
	trades   map[uuid.UUID]decimal.Decimal
}

func (s *mapSource) Name() string { return s.name }

func (s *mapSource) BalanceOf(_ context.Context, id uuid.UUID, _ valueobject.Currency, _ time.Time) (decimal.Decimal, bool, error) {
	v, ok := s.balances[id]
	return v, ok, nil
}

func (s *mapSource) SettledAmount(_ context.Context, id uuid.UUID) (decimal.Decimal, bool, error) {
	v, ok := s.trades[id]
	return v, ok, nil
}

func TestLedgerFlow_TradeToReconciliation(t *testing.T) {
	ctx := context.Background()
	s := newLedgerStack(t, trading.SettlementTypeStandard)
	start := time.Now().Add(-time.Minute)

	buyer := s.openWallet(t, "5000")
	seller := s.openWallet(t, "0")

	buy := s.workingOrder(t, buyer, trading.OrderSideBuy, "3", "1000")
	require.NotNil(t, buy.HoldID)
	assert.True(t, amount("2000").Equal(s.available(t, buyer.ID)), "3000 locked in escrow")

	sell := s.workingOrder(t, seller, trading.OrderSideSell, "3", "990")

	recorded, err := s.Orders.RecordTrade(ctx, apptrading.RecordTradeRequest{
		BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: amount("1000"), Quantity: amount("3"),
	}, deskActor)
	require.NoError(t, err)
	require.Equal(t, trading.SettlementStatusPending, recorded.Settlement.Status)
	buyerCost := recorded.Trade.BuyerCost()
	assert.True(t, amount("3003").Equal(buyerCost), "3000 notional plus 10bps fee")

	settled, err := s.Settlements.SettleTrade(ctx, recorded.Settlement.ID, deskActor)
	require.NoError(t, err)
	assert.Equal(t, trading.SettlementStatusCompleted, settled.Status)

	assert.True(t, amount("5000").Sub(buyerCost).Equal(s.available(t, buyer.ID)))
	assert.True(t, amount("3000").Equal(s.available(t, seller.ID)))

	fees, err := s.Accounts.GetAccountByCode(ctx, ledger.PlatformAccountCode(ledger.AccountTypeFeeCollection, valueobject.USD))
	require.NoError(t, err)
	assert.True(t, amount("3").Equal(s.available(t, fees.ID)))

	for _, id := range []uuid.UUID{buyer.ID, seller.ID, fees.ID} {
		report, err := s.Balances.VerifyChain(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Valid, report.Error)
	}

	buyerChain, err := s.Balances.VerifyChain(ctx, buyer.ID)
	require.NoError(t, err)
	end := time.Now()
	window, err := reconciliation.NewWindow(start, end)
	require.NoError(t, err)

	t.Run("matching sources reconcile clean", func(t *testing.T) {
		source := &mapSource{
			name:     "partner-ok",
			balances: map[uuid.UUID]decimal.Decimal{buyer.ID: buyerChain.Head.Balance},
			trades:   map[uuid.UUID]decimal.Decimal{recorded.Trade.ID: buyerCost},
		}
		engine := apprecon.NewEngine(s.Scope, s.Postings, apprecon.NewSourceRegistry(source),
			apprecon.DefaultEngineConfig(), s.Logger)

		balances, err := engine.Reconcile(ctx, reconciliation.RunTypeBalance, window, []string{"partner-ok"})
		require.NoError(t, err)
		assert.Equal(t, reconciliation.RunStatusClean, balances.Run.Status)
		assert.Positive(t, balances.Run.ItemsChecked)

		trades, err := engine.Reconcile(ctx, reconciliation.RunTypeTrade, window, []string{"partner-ok"})
		require.NoError(t, err)
		assert.Equal(t, reconciliation.RunStatusClean, trades.Run.Status)
		assert.Equal(t, 1, trades.Run.ItemsChecked)

		again, err := engine.Reconcile(ctx, reconciliation.RunTypeTrade, window, []string{"partner-ok"})
		require.NoError(t, err)
		assert.True(t, again.Reused)
		assert.Equal(t, trades.Run.ID, again.Run.ID)
	})

	t.Run("a diverging source is reported", func(t *testing.T) {
		// finished runs are reused per type and window, so widen it
		wider, err := reconciliation.NewWindow(start.Add(-time.Minute), end)
		require.NoError(t, err)
		source := &mapSource{
			name:   "partner-drift",
			trades: map[uuid.UUID]decimal.Decimal{recorded.Trade.ID: buyerCost.Add(amount("5"))},
		}
		engine := apprecon.NewEngine(s.Scope, s.Postings, apprecon.NewSourceRegistry(source),
			apprecon.DefaultEngineConfig(), s.Logger)

		result, err := engine.Reconcile(ctx, reconciliation.RunTypeTrade, wider, []string{"partner-drift"})
		require.NoError(t, err)
		assert.Equal(t, reconciliation.RunStatusDiscrepanciesFound, result.Run.Status)
		require.Len(t, result.Run.Discrepancies, 1)
		assert.Equal(t, recorded.Trade.ID, result.Run.Discrepancies[0].EntityID)

		stored, err := engine.GetRun(ctx, result.Run.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Discrepancies, 1)
	})
}

func TestLedgerFlow_InstantSettlement(t *testing.T) {
	ctx := context.Background()
	s := newLedgerStack(t, trading.SettlementTypeInstant)
	buyer := s.openWallet(t, "100")
	seller := s.openWallet(t, "0")
	buy := s.workingOrder(t, buyer, trading.OrderSideBuy, "1", "10")
	sell := s.workingOrder(t, seller, trading.OrderSideSell, "1", "10")

	recorded, err := s.Orders.RecordTrade(ctx, apptrading.RecordTradeRequest{
		BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: amount("10"), Quantity: amount("1"),
	}, deskActor)
	require.NoError(t, err)
	assert.Equal(t, trading.SettlementStatusCompleted, recorded.Settlement.Status)
	assert.True(t, amount("89.99").Equal(s.available(t, buyer.ID)))
	assert.True(t, amount("10").Equal(s.available(t, seller.ID)))
}

func TestLedgerFlow_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := newLedgerStack(t, trading.SettlementTypeStandard)
	source := s.openWallet(t, "100")
	sinks := []*ledger.Account{s.openWallet(t, "0"), s.openWallet(t, "0")}

	const workers = 12
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Postings.Transfer(ctx, appledger.TransferRequest{
				FromAccountID:  source.ID,
				ToAccountID:    sinks[i%len(sinks)].ID,
				Amount:         amount("15"),
				IdempotencyKey: "xfer-" + uuid.NewString(),
			}, deskActor)
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.True(t, errors.Is(err, ledger.ErrInsufficientBalance), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(6), succeeded.Load())
	assert.True(t, amount("10").Equal(s.available(t, source.ID)))
	received := s.available(t, sinks[0].ID).Add(s.available(t, sinks[1].ID))
	assert.True(t, amount("90").Equal(received))

	for _, id := range []uuid.UUID{source.ID, sinks[0].ID, sinks[1].ID} {
		report, err := s.Balances.VerifyChain(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Valid, report.Error)
	}
}

func TestLedgerFlow_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	s := newLedgerStack(t, trading.SettlementTypeStandard)
	wallet := s.openWallet(t, "0")
	req := appledger.ExternalMovementRequest{
		WalletAccountID: wallet.ID,
		Amount:          amount("42.50"),
		IdempotencyKey:  "wire-2026-0001",
	}

	first, err := s.Postings.Deposit(ctx, req, deskActor)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			again, err := s.Postings.Deposit(ctx, req, deskActor)
			if assert.NoError(t, err) {
				assert.True(t, again.Replayed)
				assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
			}
		}()
	}
	wg.Wait()

	assert.True(t, amount("42.50").Equal(s.available(t, wallet.ID)))
	txns, total, err := s.Queries.ListTransactions(ctx, ledger.TransactionFilter{AccountID: &wallet.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, txns, 1)
}

func TestLedgerFlow_CancelReleasesEscrow(t *testing.T) {
	ctx := context.Background()
	s := newLedgerStack(t, trading.SettlementTypeStandard)
	buyer := s.openWallet(t, "300")
	order := s.workingOrder(t, buyer, trading.OrderSideBuy, "2", "100")
	assert.True(t, amount("100").Equal(s.available(t, buyer.ID)))

	cancelled, err := s.Orders.CancelOrder(ctx, order.ID, "changed my mind", deskActor)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatusCancelled, cancelled.Status)
	assert.True(t, amount("300").Equal(s.available(t, buyer.ID)))

	_, err = s.Orders.CancelOrder(ctx, order.ID, "again", deskActor)
	assert.True(t, errors.Is(err, trading.ErrOrderTransition))
}
