package shared

const (
	DefaultPageSize = 20
	// MaxPageSize bounds every paged read
	MaxPageSize = 500
)

// Filter is the paging and ordering part of every list query. OrderBy is
// matched against a per-table allowlist by the repositories; unknown
// columns fall back to the table default.
type Filter struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
}

// DefaultFilter is the first page, newest first.
func DefaultFilter() Filter {
	return Filter{Page: 1, PageSize: DefaultPageSize, OrderBy: "created_at", OrderDir: "desc"}
}

// Normalize clamps Page to at least 1 and PageSize into [1, MaxPageSize].
func (f Filter) Normalize() Filter {
	f.Page = max(f.Page, 1)
	switch {
	case f.PageSize < 1:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}
	return f
}

// Offset is the number of rows before the normalized page.
func (f Filter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PageSize
}
