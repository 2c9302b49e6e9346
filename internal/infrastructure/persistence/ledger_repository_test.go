package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

func TestGormAccountRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		repo := NewGormAccountRepository(db)
		wallet := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)

		found, err := repo.FindByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, wallet.Code, found.Code)
		assert.Equal(t, ledger.AccountStatusActive, found.Status)
		assert.Equal(t, *wallet.OwnerID, *found.OwnerID)

		byCode, err := repo.FindByCode(ctx, wallet.Code)
		require.NoError(t, err)
		assert.Equal(t, wallet.ID, byCode.ID)
	})

	t.Run("missing account", func(t *testing.T) {
		repo := NewGormAccountRepository(setupLedgerTestDB(t))
		_, err := repo.FindByID(ctx, uuid.New())
		assert.True(t, errors.Is(err, ledger.ErrAccountNotFound))
	})

	t.Run("duplicate code", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		createTestAccount(t, db, ledger.AccountTypePlatformReserve, valueobject.USD)

		dup, err := ledger.NewPlatformAccount(ledger.AccountTypePlatformReserve, valueobject.USD)
		require.NoError(t, err)
		err = NewGormAccountRepository(db).Create(ctx, dup)
		assert.True(t, errors.Is(err, ledger.ErrAccountExists))
	})

	t.Run("optimistic lock", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		repo := NewGormAccountRepository(db)
		wallet := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)

		first, err := repo.FindByID(ctx, wallet.ID)
		require.NoError(t, err)
		second, err := repo.FindByID(ctx, wallet.ID)
		require.NoError(t, err)

		require.NoError(t, first.Freeze("chargeback review"))
		require.NoError(t, repo.SaveWithLock(ctx, first))

		require.NoError(t, second.Suspend("kyc"))
		err = repo.SaveWithLock(ctx, second)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))

		stored, err := repo.FindByID(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.AccountStatusFrozen, stored.Status)
		assert.Equal(t, "chargeback review", stored.StatusReason)
		assert.Equal(t, 2, stored.Version)
	})

	t.Run("list and page", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		repo := NewGormAccountRepository(db)
		createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)
		createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.EUR)
		createTestAccount(t, db, ledger.AccountTypeFeeCollection, valueobject.USD)

		accounts, total, err := repo.FindAll(ctx, ledger.AccountFilter{
			Filter:   shared.Filter{Page: 1, PageSize: 10},
			Currency: valueobject.USD,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, accounts, 2)

		page, err := repo.ListAfter(ctx, uuid.Nil, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		rest, err := repo.ListAfter(ctx, page[1].ID, 2)
		require.NoError(t, err)
		assert.Len(t, rest, 1)

		byIDs, err := repo.FindByIDs(ctx, []uuid.UUID{page[0].ID, uuid.New()})
		require.NoError(t, err)
		assert.Len(t, byIDs, 1)
	})
}

func TestGormLedgerTransactionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("create writes entries with running balances", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		external := createTestAccount(t, db, ledger.AccountTypeExternalDeposit, valueobject.USD)
		wallet := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)

		first := postTestTransaction(t, db, ledger.TransactionTypeDeposit, external, wallet, "100.00")
		postTestTransaction(t, db, ledger.TransactionTypeDeposit, external, wallet, "25.50")

		found, err := NewGormLedgerTransactionRepository(db).FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.TransactionStatusCommitted, found.Status)
		assert.Len(t, found.Entries, 2)

		head, err := NewGormLedgerEntryRepository(db).Head(ctx, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), head.Sequence)
		assert.True(t, head.Balance.Equal(decimal.RequireFromString("125.50")), "balance %s", head.Balance)

		extHead, err := NewGormLedgerEntryRepository(db).Head(ctx, external.ID)
		require.NoError(t, err)
		assert.True(t, extHead.Balance.Equal(decimal.RequireFromString("-125.50")))
	})

	t.Run("missing transaction", func(t *testing.T) {
		_, err := NewGormLedgerTransactionRepository(setupLedgerTestDB(t)).FindByID(ctx, uuid.New())
		assert.True(t, errors.Is(err, ledger.ErrTransactionNotFound))
	})

	t.Run("taken sequence slot is a concurrency conflict", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		external := createTestAccount(t, db, ledger.AccountTypeExternalDeposit, valueobject.USD)
		wallet := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)

		params := ledger.PostingParams{
			Type:     ledger.TransactionTypeDeposit,
			Currency: valueobject.USD,
			Amount:   decimal.NewFromInt(10),
			Entries: []ledger.EntrySpec{
				{AccountID: external.ID, EntryType: ledger.EntryTypeDebit, Amount: decimal.NewFromInt(10)},
				{AccountID: wallet.ID, EntryType: ledger.EntryTypeCredit, Amount: decimal.NewFromInt(10)},
			},
		}
		accounts := map[uuid.UUID]*ledger.Account{external.ID: external, wallet.ID: wallet}
		stale := map[uuid.UUID]ledger.AccountHead{}

		build := func() *ledger.LedgerTransaction {
			txn, err := ledger.NewLedgerTransaction(params)
			require.NoError(t, err)
			entries, err := ledger.SequenceEntries(txn.ID, params, accounts, stale)
			require.NoError(t, err)
			require.NoError(t, txn.Commit(entries))
			return txn
		}

		repo := NewGormLedgerTransactionRepository(db)
		require.NoError(t, repo.Create(ctx, build()))
		err := repo.Create(ctx, build())
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))
	})

	t.Run("mark reversed only once", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		external := createTestAccount(t, db, ledger.AccountTypeExternalDeposit, valueobject.USD)
		wallet := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)
		txn := postTestTransaction(t, db, ledger.TransactionTypeDeposit, external, wallet, "10")

		repo := NewGormLedgerTransactionRepository(db)
		require.NoError(t, txn.MarkReversed(uuid.New()))
		require.NoError(t, repo.MarkReversed(ctx, txn))

		found, err := repo.FindByID(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.TransactionStatusReversed, found.Status)
		assert.Equal(t, txn.ReversedByID, found.ReversedByID)

		err = repo.MarkReversed(ctx, txn)
		assert.True(t, errors.Is(err, ledger.ErrTransactionState))
	})

	t.Run("find all by account and reference", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		external := createTestAccount(t, db, ledger.AccountTypeExternalDeposit, valueobject.USD)
		alice := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)
		bob := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)
		postTestTransaction(t, db, ledger.TransactionTypeDeposit, external, alice, "50")
		postTestTransaction(t, db, ledger.TransactionTypeDeposit, external, bob, "50")
		postTestTransaction(t, db, ledger.TransactionTypeTransfer, alice, bob, "20")

		repo := NewGormLedgerTransactionRepository(db)
		txns, total, err := repo.FindAll(ctx, ledger.TransactionFilter{AccountID: &alice.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, txns, 2)

		_, total, err = repo.FindAll(ctx, ledger.TransactionFilter{Type: ledger.TransactionTypeTransfer})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)

		byRef, err := repo.FindByReference(ctx, ledger.Reference{Type: ledger.ReferenceOrder, ID: uuid.New()})
		require.NoError(t, err)
		assert.Empty(t, byRef)
	})
}

func TestGormLedgerEntryRepository(t *testing.T) {
	ctx := context.Background()
	db := setupLedgerTestDB(t)
	external := createTestAccount(t, db, ledger.AccountTypeExternalDeposit, valueobject.USD)
	wallet := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)
	repo := NewGormLedgerEntryRepository(db)

	empty, err := repo.Head(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Sequence)
	assert.True(t, empty.Balance.IsZero())

	for _, amount := range []string{"10", "20", "30"} {
		postTestTransaction(t, db, ledger.TransactionTypeDeposit, external, wallet, amount)
	}

	t.Run("list after is ascending and bounded", func(t *testing.T) {
		entries, err := repo.ListAfter(ctx, wallet.ID, 1, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(2), entries[0].Sequence)
		assert.Equal(t, int64(3), entries[1].Sequence)

		head, err := ledger.VerifyChain(ledger.AccountHead{AccountID: wallet.ID, Sequence: 1, Balance: decimal.NewFromInt(10)}, entries)
		require.NoError(t, err)
		assert.True(t, head.Balance.Equal(decimal.NewFromInt(60)))

		limited, err := repo.ListAfter(ctx, wallet.ID, 0, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("head as of cutoff", func(t *testing.T) {
		past, err := repo.HeadAsOf(ctx, wallet.ID, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), past.Sequence)

		now, err := repo.HeadAsOf(ctx, wallet.ID, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(3), now.Sequence)
	})

	t.Run("heads covers accounts without entries", func(t *testing.T) {
		fresh := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)
		heads, err := repo.Heads(ctx, []uuid.UUID{wallet.ID, fresh.ID, wallet.ID})
		require.NoError(t, err)
		assert.Len(t, heads, 2)
		assert.Equal(t, int64(3), heads[wallet.ID].Sequence)
		assert.Equal(t, int64(0), heads[fresh.ID].Sequence)
	})
}

func TestGormEscrowHoldRepository(t *testing.T) {
	ctx := context.Background()
	db := setupLedgerTestDB(t)
	wallet := createTestAccount(t, db, ledger.AccountTypeUserWallet, valueobject.USD)
	escrow := createTestAccount(t, db, ledger.AccountTypeUserEscrow, valueobject.USD)
	repo := NewGormEscrowHoldRepository(db)

	orderRef := &ledger.Reference{Type: ledger.ReferenceOrder, ID: uuid.New()}
	first, err := ledger.NewEscrowHold(wallet, escrow, decimal.NewFromInt(100), orderRef, uuid.New())
	require.NoError(t, err)
	second, err := ledger.NewEscrowHold(wallet, escrow, decimal.RequireFromString("40.25"), nil, uuid.New())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	sum, err := repo.SumActiveByWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("140.25")), "sum %s", sum)

	count, err := repo.CountActiveByAccount(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	byRef, err := repo.FindActiveByReference(ctx, *orderRef)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byRef.ID)

	require.NoError(t, byRef.Consume(decimal.NewFromInt(60)))
	require.NoError(t, repo.SaveWithLock(ctx, byRef))
	require.NoError(t, first.Consume(decimal.NewFromInt(1)))
	assert.True(t, errors.Is(repo.SaveWithLock(ctx, first), shared.ErrConcurrencyConflict))

	reloaded, err := repo.FindByID(ctx, second.ID)
	require.NoError(t, err)
	_, err = reloaded.Release()
	require.NoError(t, err)
	require.NoError(t, repo.SaveWithLock(ctx, reloaded))

	sum, err = repo.SumActiveByWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(40)), "sum %s", sum)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.True(t, errors.Is(err, ledger.ErrHoldNotFound))
	_, err = repo.FindActiveByReference(ctx, ledger.Reference{Type: ledger.ReferenceOrder, ID: uuid.New()})
	assert.True(t, errors.Is(err, ledger.ErrHoldNotFound))
}

func TestGormIdempotencyKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormIdempotencyKeyRepository(setupLedgerTestDB(t))

	missing, err := repo.Find(ctx, "deposit-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	txID := uuid.New()
	ok, err := repo.Reserve(ctx, ledger.NewIdempotencyRecord("deposit-1", txID, "fp"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Reserve(ctx, ledger.NewIdempotencyRecord("deposit-1", uuid.New(), "other"))
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.Find(ctx, "deposit-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, txID, found.TransactionID)
	assert.True(t, found.Matches("fp"))
	assert.False(t, found.Matches("other"))
}
