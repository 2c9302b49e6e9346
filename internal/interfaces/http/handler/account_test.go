package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/infrastructure/auth"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

func setupAccountRouter(accounts *mockAccountService, balances *mockBalanceReader, queries *mockLedgerQueries, mw ...gin.HandlerFunc) *gin.Engine {
	h := NewAccountHandler(accounts, balances, queries)
	r := gin.New()
	r.Use(mw...)
	r.POST("/accounts", h.Open)
	r.GET("/accounts", h.List)
	r.GET("/accounts/:id", h.Get)
	r.GET("/accounts/:id/balance", h.Balance)
	r.GET("/accounts/:id/entries", h.Entries)
	r.GET("/accounts/:id/chain", h.VerifyChain)
	r.POST("/accounts/:id/freeze", h.Freeze)
	r.POST("/accounts/:id/unfreeze", h.Unfreeze)
	r.POST("/accounts/:id/suspend", h.Suspend)
	r.POST("/accounts/:id/reinstate", h.Reinstate)
	r.POST("/accounts/:id/close", h.Close)
	return r
}

func newTestAccount(status ledger.AccountStatus) *ledger.Account {
	owner := uuid.New()
	a := &ledger.Account{
		Code:     ledger.UserAccountCode(owner, ledger.AccountTypeUserWallet, "USD"),
		OwnerID:  &owner,
		Type:     ledger.AccountTypeUserWallet,
		Status:   status,
		Currency: "USD",
	}
	a.ID = uuid.New()
	return a
}

func TestAccountHandler_Open(t *testing.T) {
	t.Run("opens a wallet for the authenticated admin", func(t *testing.T) {
		accounts := new(mockAccountService)
		router := setupAccountRouter(accounts, nil, nil, withClaims("ops-1", auth.RoleAdmin))

		owner := uuid.New()
		want := appledger.OpenAccountRequest{
			OwnerID:  owner,
			Type:     ledger.AccountTypeUserWallet,
			Currency: valueobject.Currency("USD"),
		}
		accounts.On("OpenUserAccount", mock.Anything, want, audit.AdminActor("ops-1")).
			Return(newTestAccount(ledger.AccountStatusActive), nil)

		w := performRequest(router, http.MethodPost, "/accounts", dto.OpenAccountRequest{
			OwnerID:  owner.String(),
			Type:     "USER_WALLET",
			Currency: "USD",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.True(t, decodeResponse(t, w).Success)
		accounts.AssertExpectations(t)
	})

	t.Run("rejects platform account types", func(t *testing.T) {
		accounts := new(mockAccountService)
		router := setupAccountRouter(accounts, nil, nil)

		w := performRequest(router, http.MethodPost, "/accounts", map[string]string{
			"owner_id": uuid.NewString(),
			"type":     "PLATFORM_RESERVE",
			"currency": "USD",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		accounts.AssertNotCalled(t, "OpenUserAccount", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate account maps to conflict", func(t *testing.T) {
		accounts := new(mockAccountService)
		router := setupAccountRouter(accounts, nil, nil)
		accounts.On("OpenUserAccount", mock.Anything, mock.Anything, audit.SystemActor("http")).
			Return(nil, ledger.ErrAccountExists)

		w := performRequest(router, http.MethodPost, "/accounts", dto.OpenAccountRequest{
			OwnerID:  uuid.NewString(),
			Type:     "USER_ESCROW",
			Currency: "EUR",
		})

		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeAlreadyExists, resp.Error.Code)
		assert.Equal(t, "ACCOUNT_EXISTS", resp.Error.Reason)
	})
}

func TestAccountHandler_Get(t *testing.T) {
	tests := []struct {
		name       string
		path       func(id uuid.UUID) string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "found", path: func(id uuid.UUID) string { return "/accounts/" + id.String() }, wantStatus: http.StatusOK},
		{name: "not found", path: func(id uuid.UUID) string { return "/accounts/" + id.String() }, err: ledger.ErrAccountNotFound, wantStatus: http.StatusNotFound, wantCode: dto.ErrCodeNotFound},
		{name: "malformed id", path: func(uuid.UUID) string { return "/accounts/not-a-uuid" }, wantStatus: http.StatusBadRequest, wantCode: dto.ErrCodeValidation},
		{name: "store failure", path: func(id uuid.UUID) string { return "/accounts/" + id.String() }, err: errors.New("connection reset"), wantStatus: http.StatusInternalServerError, wantCode: dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := new(mockAccountService)
			router := setupAccountRouter(accounts, nil, nil)
			account := newTestAccount(ledger.AccountStatusActive)
			if tt.err != nil {
				accounts.On("GetAccount", mock.Anything, account.ID).Return(nil, tt.err)
			} else {
				accounts.On("GetAccount", mock.Anything, account.ID).Return(account, nil)
			}

			w := performRequest(router, http.MethodGet, tt.path(account.ID), nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeResponse(t, w).Error.Code)
			}
		})
	}
}

func TestAccountHandler_List(t *testing.T) {
	accounts := new(mockAccountService)
	router := setupAccountRouter(accounts, nil, nil)

	owner := uuid.New()
	accounts.On("ListAccounts", mock.Anything, mock.MatchedBy(func(f ledger.AccountFilter) bool {
		return f.OwnerID != nil && *f.OwnerID == owner &&
			f.Status == ledger.AccountStatusFrozen &&
			f.Page == 2 && f.PageSize == 10
	})).Return([]ledger.Account{*newTestAccount(ledger.AccountStatusFrozen)}, int64(11), nil)

	w := performRequest(router, http.MethodGet, "/accounts?owner_id="+owner.String()+"&status=FROZEN&page=2&page_size=10", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(11), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.TotalPages)
	accounts.AssertExpectations(t)

	t.Run("unknown status is rejected", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/accounts?status=DORMANT", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountHandler_StatusChanges(t *testing.T) {
	tests := []struct {
		method string
		path   string
		body   any
		reason string
	}{
		{method: "Freeze", path: "freeze", body: dto.StatusChangeRequest{Reason: "chargeback"}, reason: "chargeback"},
		{method: "Unfreeze", path: "unfreeze"},
		{method: "Suspend", path: "suspend", body: dto.StatusChangeRequest{Reason: "kyc review"}, reason: "kyc review"},
		{method: "Reinstate", path: "reinstate"},
		{method: "Close", path: "close", body: dto.StatusChangeRequest{Reason: "customer request"}, reason: "customer request"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			accounts := new(mockAccountService)
			router := setupAccountRouter(accounts, nil, nil, withClaims("ops-2", auth.RoleAdmin))
			id := uuid.New()
			accounts.On(tt.method, mock.Anything, id, tt.reason, audit.AdminActor("ops-2")).
				Return(newTestAccount(ledger.AccountStatusActive), nil)

			w := performRequest(router, http.MethodPost, "/accounts/"+id.String()+"/"+tt.path, tt.body)

			assert.Equal(t, http.StatusOK, w.Code)
			accounts.AssertExpectations(t)
		})
	}

	t.Run("closing a funded account is an invalid state", func(t *testing.T) {
		accounts := new(mockAccountService)
		router := setupAccountRouter(accounts, nil, nil)
		id := uuid.New()
		accounts.On("Close", mock.Anything, id, "", mock.Anything).Return(nil, ledger.ErrAccountNotEmpty)

		w := performRequest(router, http.MethodPost, "/accounts/"+id.String()+"/close", nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeInvalidState, resp.Error.Code)
		assert.Equal(t, "ACCOUNT_NOT_EMPTY", resp.Error.Reason)
	})
}

func TestAccountHandler_Balance(t *testing.T) {
	balances := new(mockBalanceReader)
	router := setupAccountRouter(nil, balances, nil)
	id := uuid.New()
	balances.On("GetBalance", mock.Anything, id).Return(ledger.BalanceView{
		AccountID:    id,
		Currency:     "USD",
		Available:    decimal.RequireFromString("70.00"),
		Held:         decimal.RequireFromString("30.00"),
		Total:        decimal.RequireFromString("100.00"),
		AsOfSequence: 4,
	}, nil)

	w := performRequest(router, http.MethodGet, "/accounts/"+id.String()+"/balance", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var view ledger.BalanceView
	require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &view))
	assert.True(t, view.Available.Equal(decimal.NewFromInt(70)))
	assert.True(t, view.Held.Equal(decimal.NewFromInt(30)))
	assert.True(t, view.Total.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(4), view.AsOfSequence)
}

func TestAccountHandler_VerifyChain(t *testing.T) {
	balances := new(mockBalanceReader)
	router := setupAccountRouter(nil, balances, nil)
	id := uuid.New()
	balances.On("VerifyChain", mock.Anything, id).
		Return(&appledger.ChainReport{AccountID: id, Entries: 3, Valid: false, Error: "sequence 2 does not follow 0"}, nil)

	w := performRequest(router, http.MethodGet, "/accounts/"+id.String()+"/chain", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var report appledger.ChainReport
	require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &report))
	assert.False(t, report.Valid)
	assert.Equal(t, int64(3), report.Entries)
}

func TestAccountHandler_Entries(t *testing.T) {
	t.Run("pages after a sequence", func(t *testing.T) {
		queries := new(mockLedgerQueries)
		router := setupAccountRouter(nil, nil, queries)
		id := uuid.New()
		queries.On("ListEntries", mock.Anything, id, int64(10), 50).
			Return(&appledger.EntryPage{AccountID: id, NextAfter: 60}, nil)

		w := performRequest(router, http.MethodGet, "/accounts/"+id.String()+"/entries?after=10&limit=50", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var page appledger.EntryPage
		require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &page))
		assert.Equal(t, int64(60), page.NextAfter)
	})

	t.Run("limit above the page cap is rejected", func(t *testing.T) {
		router := setupAccountRouter(nil, nil, new(mockLedgerQueries))
		w := performRequest(router, http.MethodGet, "/accounts/"+uuid.NewString()+"/entries?limit=501", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		queries := new(mockLedgerQueries)
		router := setupAccountRouter(nil, nil, queries)
		queries.On("ListEntries", mock.Anything, mock.Anything, int64(0), 0).
			Return(nil, shared.ErrNotFound)

		w := performRequest(router, http.MethodGet, "/accounts/"+uuid.NewString()+"/entries", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
