package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appaudit "github.com/tradeledger/backend/internal/application/audit"
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

func setup(t *testing.T) (*appaudit.Service, *appledger.AccountService) {
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
		persistence.WithExecutorLogger(logger),
		persistence.WithEventSerializer(event.NewEventSerializer()),
	)
	return appaudit.NewService(scope, logger), appledger.NewAccountService(scope, logger)
}

func TestService_ListByEntity(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)
	admin := audit.AdminActor("ops@example.com")

	owner := uuid.New()
	account, err := accounts.OpenUserAccount(ctx, appledger.OpenAccountRequest{
		OwnerID: owner, Type: ledger.AccountTypeUserWallet, Currency: valueobject.USD,
	}, audit.UserActor(owner))
	require.NoError(t, err)
	_, err = accounts.Freeze(ctx, account.ID, "chargeback review", admin)
	require.NoError(t, err)
	_, err = accounts.Unfreeze(ctx, account.ID, "review cleared", admin)
	require.NoError(t, err)

	other, err := accounts.OpenUserAccount(ctx, appledger.OpenAccountRequest{
		OwnerID: uuid.New(), Type: ledger.AccountTypeUserWallet, Currency: valueobject.USD,
	}, admin)
	require.NoError(t, err)

	page, err := svc.ListByEntity(ctx, ledger.AggregateTypeAccount, account.ID, shared.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Entries, 3)
	actions := make([]audit.Action, 0, len(page.Entries))
	for _, e := range page.Entries {
		assert.Equal(t, account.ID, e.EntityID)
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []audit.Action{audit.ActionAccountOpened, audit.ActionAccountFrozen, audit.ActionAccountUnfrozen}, actions)

	t.Run("paging", func(t *testing.T) {
		page, err := svc.ListByEntity(ctx, ledger.AggregateTypeAccount, account.ID, shared.Filter{Page: 2, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), page.Total)
		assert.Len(t, page.Entries, 1)
		assert.Equal(t, 2, page.Page)
	})

	t.Run("filters", func(t *testing.T) {
		tests := []struct {
			name   string
			filter audit.Filter
			want   int64
		}{
			{"by action", audit.Filter{Action: audit.ActionAccountOpened}, 2},
			{"by actor", audit.Filter{ActorID: admin.ID}, 3},
			{"by entity", audit.Filter{EntityType: ledger.AggregateTypeAccount, EntityID: &other.ID}, 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := svc.List(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, page.Total)
			})
		}
	})

	t.Run("frozen entry keeps the reason", func(t *testing.T) {
		page, err := svc.List(ctx, audit.Filter{Action: audit.ActionAccountFrozen})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "chargeback review", page.Entries[0].Reason)
		assert.Equal(t, audit.ActorTypeAdmin, page.Entries[0].ActorType)
	})
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	_, err := svc.ListByEntity(ctx, "", uuid.New(), shared.Filter{})
	assert.Error(t, err)

	now := time.Now()
	earlier := now.Add(-time.Hour)
	_, err = svc.List(ctx, audit.Filter{From: &now, To: &earlier})
	assert.Error(t, err)
}
