package persistence

import (
	"strings"

	"github.com/tradeledger/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// sortColumns is the set of columns a list query may be ordered by.
// Anything outside the set collapses to the fallback column, so caller
// input never reaches the ORDER BY clause verbatim.
type sortColumns struct {
	fallback string
	allowed  map[string]struct{}
}

func newSortColumns(fallback string, columns ...string) sortColumns {
	allowed := make(map[string]struct{}, len(columns)+1)
	allowed[fallback] = struct{}{}
	for _, c := range columns {
		allowed[c] = struct{}{}
	}
	return sortColumns{fallback: fallback, allowed: allowed}
}

func (s sortColumns) column(requested string) string {
	requested = strings.TrimSpace(requested)
	if _, ok := s.allowed[requested]; ok {
		return requested
	}
	return s.fallback
}

// sortDirection accepts "asc" in any case; everything else is DESC.
func sortDirection(dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), "asc") {
		return "ASC"
	}
	return "DESC"
}

// page applies ordering and offset/limit. id breaks ties so pages are stable.
func (s sortColumns) page(query *gorm.DB, filter shared.Filter) *gorm.DB {
	f := filter.Normalize()
	dir := sortDirection(f.OrderDir)
	query = query.Order(s.column(f.OrderBy) + " " + dir)
	if s.fallback != "id" {
		query = query.Order("id " + dir)
	}
	return query.Offset(f.Offset()).Limit(f.PageSize)
}

var (
	accountSort     = newSortColumns("created_at", "id", "updated_at", "code", "type", "status", "currency")
	transactionSort = newSortColumns("created_at", "id", "committed_at", "type", "status", "amount")
	orderSort       = newSortColumns("created_at", "id", "updated_at", "market_id", "status", "price", "quantity", "expires_at")
	runSort         = newSortColumns("started_at", "id", "created_at", "window_start", "status")
	auditSort       = newSortColumns("occurred_at", "action", "actor_id", "entity_type")
)
