package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"go.uber.org/zap/zaptest"
)

func TestMemoryObjectStore(t *testing.T) {
	store := NewMemoryObjectStore()
	ctx := t.Context()

	require.NoError(t, store.Put(ctx, "a/2.csv", []byte("two"), "text/csv"))
	require.NoError(t, store.Put(ctx, "a/1.csv", []byte("one"), "text/csv"))
	require.NoError(t, store.Put(ctx, "b/1.csv", []byte("other"), "text/csv"))

	keys, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1.csv", "a/2.csv"}, keys)

	data, err := store.Get(ctx, "a/1.csv")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	assert.Equal(t, "text/csv", store.ContentType("a/1.csv"))

	data[0] = 'X'
	again, _ := store.Get(ctx, "a/1.csv")
	assert.Equal(t, "one", string(again), "callers get a copy")

	require.NoError(t, store.Delete(ctx, "a/1.csv"))
	exists, err := store.Exists(ctx, "a/1.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, "a/1.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, store.Put(ctx, "", nil, ""), ErrKeyRequired)
}

func TestReportArchiver(t *testing.T) {
	store := NewMemoryObjectStore()
	archiver := NewReportArchiver(store, "reconciliation", time.Minute, zaptest.NewLogger(t))

	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	window, err := reconciliation.NewWindow(start, start.Add(time.Hour))
	require.NoError(t, err)
	run, err := reconciliation.NewRun(reconciliation.RunTypeBalance, window, []string{"projection"}, start.Add(2*time.Hour))
	require.NoError(t, err)
	run.AddDiscrepancy(reconciliation.NewDiscrepancy("projection", reconciliation.EntityAccount, uuid.New(),
		valueobject.USD, decimal.NewFromInt(100), decimal.RequireFromString("100.50")))
	run.Finish(start.Add(2 * time.Hour))

	key, err := archiver.Archive(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, "reconciliation/BALANCE/2026/03/14/"+run.ID.String()+".json", key)
	assert.Equal(t, "application/json", store.ContentType(key))

	data, err := store.Get(t.Context(), key)
	require.NoError(t, err)
	var decoded struct {
		Run struct {
			Status        string            `json:"status"`
			Discrepancies []json.RawMessage `json:"discrepancies"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "DISCREPANCIES_FOUND", decoded.Run.Status)
	assert.Len(t, decoded.Run.Discrepancies, 1)

	link, expiresAt, err := archiver.DownloadURL(t.Context(), key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "memory://objects/"+key))
	assert.True(t, expiresAt.After(time.Now()))

	_, _, err = archiver.DownloadURL(t.Context(), "reconciliation/missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

type unsignedStore struct{ ObjectStore }

func TestReportArchiver_DownloadURLNeedsSigner(t *testing.T) {
	archiver := NewReportArchiver(unsignedStore{NewMemoryObjectStore()}, "r", 0, zaptest.NewLogger(t))
	_, _, err := archiver.DownloadURL(t.Context(), "r/x.json")
	assert.ErrorIs(t, err, ErrSigningUnsupported)
}

func TestPartnerStatementSource(t *testing.T) {
	store := NewMemoryObjectStore()
	ctx := t.Context()
	first, second, missing := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, store.Put(ctx, "statements/2026-03-14.csv", []byte(strings.Join([]string{
		"trade_id,settled_amount,currency",
		first.String() + ",100.10,USD",
		second.String() + ",50,USD",
	}, "\n")), "text/csv"))
	require.NoError(t, store.Put(ctx, "statements/2026-03-15.csv", []byte(
		"settled_amount,trade_id\n 49.95, "+second.String()+"\n"), "text/csv"))
	require.NoError(t, store.Put(ctx, "statements/readme.txt", []byte("ignored"), "text/plain"))

	source := NewPartnerStatementSource(store, "statements/", zaptest.NewLogger(t))
	assert.Equal(t, PartnerSourceName, source.Name())

	amount, ok, err := source.SettledAmount(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("100.10")))

	amount, ok, err = source.SettledAmount(ctx, second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("49.95")), "later statement wins")

	_, ok, err = source.SettledAmount(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("cached until reload", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "statements/2026-03-16.csv", []byte(
			"trade_id,settled_amount\n"+missing.String()+",1\n"), "text/csv"))

		_, ok, _ := source.SettledAmount(ctx, missing)
		assert.False(t, ok)

		source.Reload()
		_, ok, _ = source.SettledAmount(ctx, missing)
		assert.True(t, ok)
	})

	t.Run("malformed statement", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "statements/2026-03-17.csv", []byte(
			"trade_id,settled_amount\nnot-a-uuid,1\n"), "text/csv"))
		source.Reload()

		_, _, err := source.SettledAmount(ctx, first)
		assert.ErrorIs(t, err, ErrMalformedStatement)
	})
}

func TestParseStatement(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{name: "empty file", data: "", want: 0},
		{name: "header only", data: "trade_id,settled_amount\n", want: 0},
		{name: "one row", data: "trade_id,settled_amount\n" + id.String() + ",1.5\n", want: 1},
		{name: "missing header column", data: "trade_id,amount\n" + id.String() + ",1\n", wantErr: true},
		{name: "bad amount", data: "trade_id,settled_amount\n" + id.String() + ",one\n", wantErr: true},
		{name: "short row", data: "trade_id,settled_amount\n" + id.String() + "\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := parseStatement([]byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedStatement)
				return
			}
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}
}
