package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appaudit "github.com/tradeledger/backend/internal/application/audit"
	appevent "github.com/tradeledger/backend/internal/application/event"
	apprecon "github.com/tradeledger/backend/internal/application/reconciliation"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/auth"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/event"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
	"github.com/tradeledger/backend/internal/interfaces/http/router"
)

type apiServer struct {
	engine *gin.Engine
	jwt    *auth.JWTService
}

func newAPIServer(t *testing.T) (*apiServer, *ledgerStack) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.SetupValidator())

	s := newLedgerStack(t, trading.SettlementTypeStandard)
	jwtService := auth.NewJWTService(config.JWTConfig{
		Secret:                "integration-secret-at-least-32-bytes!",
		AccessTokenExpiration: time.Hour,
		Issuer:                "trade-ledger-test",
	})
	recon := apprecon.NewEngine(s.Scope, s.Postings, apprecon.NewSourceRegistry(),
		apprecon.DefaultEngineConfig(), s.Logger)

	engine := gin.New()
	router.NewRouter(engine).
		Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService: jwtService,
			Logger:     s.Logger,
		})).
		Register(router.LedgerRoutes(router.LedgerHandlers{
			Accounts:        handler.NewAccountHandler(s.Accounts, s.Balances, s.Queries),
			Transactions:    handler.NewTransactionHandler(s.Postings, s.Queries),
			Orders:          handler.NewOrderHandler(s.Orders),
			Settlements:     handler.NewSettlementHandler(s.Settlements),
			Reconciliations: handler.NewReconciliationHandler(recon),
			Audit:           handler.NewAuditHandler(appaudit.NewService(s.Scope, s.Logger)),
			Outbox:          handler.NewOutboxHandler(appevent.NewOutboxService(event.NewGormOutboxRepository(s.DB.DB), s.Logger)),
		})...).
		Setup()

	return &apiServer{engine: engine, jwt: jwtService}, s
}

func (a *apiServer) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	tok, err := a.jwt.GenerateToken(auth.TokenInput{Subject: subject, Roles: roles})
	require.NoError(t, err)
	return tok.AccessToken
}

func (a *apiServer) do(t *testing.T, token, method, path string, body any) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func decodeData[T any](t *testing.T, resp dto.Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestAPI_DepositReplayAndBalance(t *testing.T) {
	api, _ := newAPIServer(t)
	admin := api.token(t, "ops-1", auth.RoleAdmin)
	reader := api.token(t, "analyst-1", auth.RoleReader)

	w, resp := api.do(t, admin, http.MethodPost, "/api/v1/accounts", dto.OpenAccountRequest{
		OwnerID:  uuid.NewString(),
		Type:     "USER_WALLET",
		Currency: "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	account := decodeData[ledger.Account](t, resp)

	deposit := dto.MovementRequest{
		Type:           "DEPOSIT",
		AccountID:      account.ID.String(),
		Amount:         "250.75",
		IdempotencyKey: "wire-api-1",
	}
	w, resp = api.do(t, admin, http.MethodPost, "/api/v1/transactions", deposit)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decodeData[dto.PostingResponse](t, resp)
	assert.False(t, first.Replayed)

	w, resp = api.do(t, admin, http.MethodPost, "/api/v1/transactions", deposit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replay := decodeData[dto.PostingResponse](t, resp)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Transaction.ID, replay.Transaction.ID)

	w, resp = api.do(t, reader, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decodeData[ledger.BalanceView](t, resp)
	assert.Equal(t, "250.75", view.Available.StringFixed(2))

	w, _ = api.do(t, reader, http.MethodPost, "/api/v1/transactions", deposit)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = api.do(t, "", http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/balance", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = api.do(t, admin, http.MethodPost, "/api/v1/transactions", dto.MovementRequest{
		Type:           "WITHDRAWAL",
		AccountID:      account.ID.String(),
		Amount:         "1000",
		IdempotencyKey: "wd-api-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Error.Reason)

	w, resp = api.do(t, reader, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/chain", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeData[struct {
		Valid bool `json:"valid"`
	}](t, resp).Valid)
}

func TestAPI_OrderLifecycle(t *testing.T) {
	api, s := newAPIServer(t)
	admin := api.token(t, "ops-1", auth.RoleAdmin)
	wallet := s.openWallet(t, "500")

	w, resp := api.do(t, admin, http.MethodPost, "/api/v1/orders", dto.PlaceOrderRequest{
		UserID:          wallet.OwnerID.String(),
		WalletAccountID: wallet.ID.String(),
		MarketID:        "ETH-USD",
		Side:            "BUY",
		Type:            "LIMIT",
		Quantity:        "2",
		Price:           "100",
		Currency:        "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decodeData[trading.Order](t, resp)
	assert.Equal(t, trading.OrderStatusPending, order.Status)
	assert.Equal(t, "300.00", s.available(t, wallet.ID).StringFixed(2))

	w, resp = api.do(t, admin, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, trading.OrderStatusOpen, decodeData[trading.Order](t, resp).Status)

	w, _ = api.do(t, admin, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/reject", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = api.do(t, admin, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/reject",
		dto.ReasonRequest{Reason: "risk limit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, trading.OrderStatusRejected, decodeData[trading.Order](t, resp).Status)
	assert.Equal(t, "500.00", s.available(t, wallet.ID).StringFixed(2))

	w, resp = api.do(t, admin, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_ORDER_TRANSITION", resp.Error.Reason)

	w, resp = api.do(t, admin, http.MethodGet, "/api/v1/audit?entity_id="+order.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, resp.Meta)
	assert.GreaterOrEqual(t, resp.Meta.Total, int64(2), "placed and rejected")
}

func TestAPI_OutboxStatsAfterPosting(t *testing.T) {
	api, s := newAPIServer(t)
	admin := api.token(t, "ops-1", auth.RoleAdmin)
	reader := api.token(t, "analyst-1", auth.RoleReader)
	s.openWallet(t, "75")

	w, resp := api.do(t, reader, http.MethodGet, "/api/v1/outbox/stats", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decodeData[appevent.OutboxStats](t, resp)
	assert.Positive(t, stats.Pending, "posting events wait for the relay")
	assert.Zero(t, stats.Dead)

	w, resp = api.do(t, admin, http.MethodPost, "/api/v1/outbox/dead-letters/retry", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Zero(t, decodeData[dto.RetryAllResponse](t, resp).Requeued)

	w, _ = api.do(t, reader, http.MethodPost, "/api/v1/outbox/dead-letters/retry", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
