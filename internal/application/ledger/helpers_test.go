package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/infrastructure/event"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testActor = audit.AdminActor("ops@example.com")

type memorySnapshots struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]ledger.BalanceSnapshot
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snapshots: make(map[uuid.UUID]ledger.BalanceSnapshot)}
}

func (m *memorySnapshots) Get(_ context.Context, id uuid.UUID) (*ledger.BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memorySnapshots) Put(_ context.Context, s ledger.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.AccountID] = s
	return nil
}

func (m *memorySnapshots) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.snapshots, id)
	}
	return nil
}

func (m *memorySnapshots) has(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snapshots[id]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) published() []shared.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]shared.DomainEvent(nil), p.events...)
}

type testLedger struct {
	db        *gorm.DB
	scope     *persistence.GormExecutor
	snapshots *memorySnapshots
	publisher *recordingPublisher
	postings  *appledger.PostingService
	balances  *appledger.BalanceService
	accounts  *appledger.AccountService
}

func newTestLedger(t *testing.T) *testLedger {
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
	snapshots := newMemorySnapshots()
	publisher := &recordingPublisher{}
	return &testLedger{
		db:        db,
		scope:     scope,
		snapshots: snapshots,
		publisher: publisher,
		postings:  appledger.NewPostingService(scope, snapshots, publisher, nil, logger),
		balances:  appledger.NewBalanceService(scope, snapshots, appledger.DefaultBalanceServiceConfig(), logger),
		accounts:  appledger.NewAccountService(scope, logger),
	}
}

func (l *testLedger) openWallet(t *testing.T, currency valueobject.Currency) *ledger.Account {
	t.Helper()
	account, err := l.accounts.OpenUserAccount(context.Background(), appledger.OpenAccountRequest{
		OwnerID:  uuid.New(),
		Type:     ledger.AccountTypeUserWallet,
		Currency: currency,
	}, testActor)
	require.NoError(t, err)
	return account
}

func (l *testLedger) deposit(t *testing.T, wallet *ledger.Account, amount string) *ledger.LedgerTransaction {
	t.Helper()
	result, err := l.postings.Deposit(context.Background(), appledger.ExternalMovementRequest{
		WalletAccountID: wallet.ID,
		Amount:          dec(amount),
		IdempotencyKey:  "dep-" + uuid.NewString(),
	}, testActor)
	require.NoError(t, err)
	return result.Transaction
}

func (l *testLedger) available(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	view, err := l.balances.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return view.Available
}

func (l *testLedger) count(t *testing.T, model any, where ...any) int64 {
	t.Helper()
	var n int64
	q := l.db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
