package trading_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/event"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testActor = audit.AdminActor("desk@example.com")

var testFees = trading.FeeSchedule{RateBps: 10}

type testDesk struct {
	db          *gorm.DB
	scope       *persistence.GormExecutor
	postings    *appledger.PostingService
	balances    *appledger.BalanceService
	accounts    *appledger.AccountService
	orders      *apptrading.OrderService
	settlements *apptrading.SettlementService
}

func newTestDesk(t *testing.T, settlementType trading.SettlementType) *testDesk {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	logger := zaptest.NewLogger(t)
	scope := persistence.NewGormExecutor(db,
		persistence.WithExecutorConfig(persistence.ExecutorConfig{MaxRetries: 10, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond}),
		persistence.WithExecutorLogger(logger),
		persistence.WithEventSerializer(event.NewEventSerializer()),
	)
	postings := appledger.NewPostingService(scope, nil, nil, nil, logger)
	settlements := apptrading.NewSettlementService(scope, postings, nil, apptrading.DefaultSettlementConfig(), logger)
	orders := apptrading.NewOrderService(scope, postings, apptrading.Config{Fees: testFees, SettlementType: settlementType}, logger)
	orders.SetSettler(settlements)

	return &testDesk{
		db:          db,
		scope:       scope,
		postings:    postings,
		balances:    appledger.NewBalanceService(scope, nil, appledger.DefaultBalanceServiceConfig(), logger),
		accounts:    appledger.NewAccountService(scope, logger),
		orders:      orders,
		settlements: settlements,
	}
}

func (d *testDesk) wallet(t *testing.T, funds string) *ledger.Account {
	t.Helper()
	ctx := context.Background()
	owner := uuid.New()
	account, err := d.accounts.OpenUserAccount(ctx, appledger.OpenAccountRequest{
		OwnerID: owner, Type: ledger.AccountTypeUserWallet, Currency: valueobject.USD,
	}, audit.UserActor(owner))
	require.NoError(t, err)
	if funds != "0" {
		_, err = d.postings.Deposit(ctx, appledger.ExternalMovementRequest{
			WalletAccountID: account.ID, Amount: dec(funds), IdempotencyKey: "fund-" + account.ID.String(),
		}, testActor)
		require.NoError(t, err)
	}
	return account
}

func (d *testDesk) place(t *testing.T, wallet *ledger.Account, side trading.OrderSide, typ trading.OrderType, qty, price string) *trading.Order {
	t.Helper()
	order, err := d.orders.PlaceOrder(context.Background(), orderParams(wallet, side, typ, qty, price), testActor)
	require.NoError(t, err)
	order, err = d.orders.AcceptOrder(context.Background(), order.ID, testActor)
	require.NoError(t, err)
	return order
}

func (d *testDesk) available(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	view, err := d.balances.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return view.Available
}

func (d *testDesk) count(t *testing.T, model any, where ...any) int64 {
	t.Helper()
	var n int64
	q := d.db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (d *testDesk) hold(t *testing.T, id uuid.UUID) *ledger.EscrowHold {
	t.Helper()
	hold, err := appledger.ReadWithResult(context.Background(), d.scope, func(repos appledger.TransactionalRepositories) (*ledger.EscrowHold, error) {
		return repos.Holds().FindByID(context.Background(), id)
	})
	require.NoError(t, err)
	return hold
}

func orderParams(wallet *ledger.Account, side trading.OrderSide, typ trading.OrderType, qty, price string) trading.OrderParams {
	p := trading.OrderParams{
		UserID:          *wallet.OwnerID,
		MarketID:        "BTC-USD",
		Side:            side,
		Type:            typ,
		TimeInForce:     trading.TimeInForceGTC,
		Quantity:        dec(qty),
		Currency:        valueobject.USD,
		WalletAccountID: wallet.ID,
	}
	if price != "" {
		p.Price = dec(price)
	}
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
