package dto

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/trading"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeIdempotencyConflict, http.StatusConflict},
		{ErrCodeInsufficientBalance, http.StatusUnprocessableEntity},
		{ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestErrorCodeFor(t *testing.T) {
	tests := []struct {
		name     string
		err      *shared.DomainError
		expected string
	}{
		{"pinned code", shared.NewDomainError("INSUFFICIENT_BALANCE", "short"), ErrCodeInsufficientBalance},
		{"frozen account", ledger.ErrAccountFrozen, ErrCodeAccountUnavailable},
		{"unknown account", ledger.ErrAccountNotFound, ErrCodeNotFound},
		{"not found kind", trading.ErrOrderNotFound, ErrCodeNotFound},
		{"state kind", ledger.ErrHoldNotActive, ErrCodeInvalidState},
		{"idempotency kind", ledger.ErrIdempotencyConflict, ErrCodeIdempotencyConflict},
		{"key reuse", ledger.ErrIdempotencyKeyReuse, ErrCodeIdempotencyKeyReuse},
		{"validation kind", ledger.ErrUnbalancedEntries, ErrCodeValidation},
		{"broken chain", ledger.ErrBrokenChain, ErrCodeIntegrity},
		{"unknown kind", &shared.DomainError{Code: "X", Kind: "ODD"}, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ErrorCodeFor(tt.err))
		})
	}
}

func TestNewDomainErrorResponse(t *testing.T) {
	err := ledger.ErrAccountFrozen.WithDetail("account_id", "a-1")
	resp := NewDomainErrorResponse(err, "req-1")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAccountUnavailable, resp.Error.Code)
	assert.Equal(t, "ACCOUNT_FROZEN", resp.Error.Reason)
	assert.Equal(t, "a-1", resp.Error.Details["account_id"])
	assert.Equal(t, "req-1", resp.Error.RequestID)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	tests := []struct {
		total    int64
		pageSize int
		pages    int
	}{
		{0, 20, 0},
		{20, 20, 1},
		{21, 20, 2},
		{5, 0, 0},
	}
	for _, tt := range tests {
		resp := NewSuccessResponseWithMeta([]int{}, tt.total, 1, tt.pageSize)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, tt.pages, resp.Meta.TotalPages)
	}
}

func TestListRequest_Filter(t *testing.T) {
	f := ListRequest{}.Filter()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.PageSize)

	f = ListRequest{Page: 3, PageSize: 50, OrderBy: "created_at", OrderDir: "asc"}.Filter()
	assert.Equal(t, shared.Filter{Page: 3, PageSize: 50, OrderBy: "created_at", OrderDir: "asc"}, f)
}
