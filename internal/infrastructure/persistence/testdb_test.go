package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupLedgerTestDB opens an in-memory SQLite database with every ledger table.
// A single connection keeps the in-memory database shared across statements.
func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func createTestAccount(t *testing.T, db *gorm.DB, accountType ledger.AccountType, currency valueobject.Currency) *ledger.Account {
	t.Helper()
	var (
		account *ledger.Account
		err     error
	)
	if accountType.IsUserOwned() {
		account, err = ledger.NewUserAccount(uuid.New(), accountType, currency)
	} else {
		account, err = ledger.NewPlatformAccount(accountType, currency)
	}
	require.NoError(t, err)
	require.NoError(t, NewGormAccountRepository(db).Create(context.Background(), account))
	return account
}

// postTestTransaction writes a committed two-leg transaction crediting to and debiting from
func postTestTransaction(t *testing.T, db *gorm.DB, txType ledger.TransactionType, from, to *ledger.Account, amount string) *ledger.LedgerTransaction {
	t.Helper()
	ctx := context.Background()
	amt := decimal.RequireFromString(amount)
	params := ledger.PostingParams{
		Type:        txType,
		Currency:    from.Currency,
		Amount:      amt,
		InitiatorID: "test",
		Entries: []ledger.EntrySpec{
			{AccountID: from.ID, EntryType: ledger.EntryTypeDebit, Amount: amt},
			{AccountID: to.ID, EntryType: ledger.EntryTypeCredit, Amount: amt},
		},
	}
	txn, err := ledger.NewLedgerTransaction(params)
	require.NoError(t, err)

	entries := NewGormLedgerEntryRepository(db)
	heads, err := entries.Heads(ctx, params.AccountIDs())
	require.NoError(t, err)
	sequenced, err := ledger.SequenceEntries(txn.ID, params,
		map[uuid.UUID]*ledger.Account{from.ID: from, to.ID: to}, heads)
	require.NoError(t, err)
	require.NoError(t, txn.Commit(sequenced))
	require.NoError(t, NewGormLedgerTransactionRepository(db).Create(ctx, txn))
	return txn
}
