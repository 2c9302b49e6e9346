package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/shared"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSortDirection(t *testing.T) {
	for input, want := range map[string]string{
		"":                      "DESC",
		"asc":                   "ASC",
		"  Asc ":                "ASC",
		"desc":                  "DESC",
		"ascending":             "DESC",
		"ASC; DELETE FROM x;--": "DESC",
	} {
		assert.Equal(t, want, sortDirection(input), "%q", input)
	}
}

func TestSortColumns_Column(t *testing.T) {
	tests := []struct {
		name      string
		columns   sortColumns
		requested string
		want      string
	}{
		{"allowed column", transactionSort, "committed_at", "committed_at"},
		{"trimmed", accountSort, " code ", "code"},
		{"empty falls back", runSort, "", "started_at"},
		{"fallback is always allowed", auditSort, "occurred_at", "occurred_at"},
		{"case sensitive", orderSort, "PRICE", "created_at"},
		{"unknown column", accountSort, "balance", "created_at"},
		{"statement injection", orderSort, "price; DROP TABLE orders", "created_at"},
		{"subquery injection", transactionSort, "(SELECT 1)", "created_at"},
		{"comment injection", auditSort, "action/**/", "occurred_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.columns.column(tt.requested))
		})
	}
}

type pagedRow struct {
	ID        uint
	CreatedAt int64
	Code      string
}

func TestSortColumns_Page(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	render := func(cols sortColumns, f shared.Filter) string {
		return db.ToSQL(func(tx *gorm.DB) *gorm.DB {
			var rows []pagedRow
			return cols.page(tx.Model(&pagedRow{}), f).Find(&rows)
		})
	}

	sql := render(accountSort, shared.Filter{Page: 3, PageSize: 10, OrderBy: "code", OrderDir: "asc"})
	assert.Contains(t, sql, "ORDER BY code ASC,id ASC")
	assert.Contains(t, sql, "LIMIT 10 OFFSET 20")

	sql = render(accountSort, shared.Filter{OrderBy: "code desc, (select 1)"})
	assert.Contains(t, sql, "ORDER BY created_at DESC,id DESC")
	assert.Contains(t, sql, "LIMIT 20")

	sql = render(newSortColumns("id"), shared.Filter{PageSize: 10_000})
	assert.Contains(t, sql, "ORDER BY id DESC LIMIT 500")
}
