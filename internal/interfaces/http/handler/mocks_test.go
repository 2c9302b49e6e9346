package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	appaudit "github.com/tradeledger/backend/internal/application/audit"
	appevent "github.com/tradeledger/backend/internal/application/event"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	apprecon "github.com/tradeledger/backend/internal/application/reconciliation"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/auth"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.SetupValidator(); err != nil {
		panic(err)
	}
}

type mockAccountService struct {
	mock.Mock
}

func (m *mockAccountService) OpenUserAccount(ctx context.Context, req appledger.OpenAccountRequest, actor audit.Actor) (*ledger.Account, error) {
	args := m.Called(ctx, req, actor)
	return accountOrNil(args.Get(0)), args.Error(1)
}

func (m *mockAccountService) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, id)
	return accountOrNil(args.Get(0)), args.Error(1)
}

func (m *mockAccountService) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, int64, error) {
	args := m.Called(ctx, filter)
	accounts, _ := args.Get(0).([]ledger.Account)
	return accounts, args.Get(1).(int64), args.Error(2)
}

func (m *mockAccountService) Freeze(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	args := m.Called(ctx, id, reason, actor)
	return accountOrNil(args.Get(0)), args.Error(1)
}

func (m *mockAccountService) Unfreeze(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	args := m.Called(ctx, id, reason, actor)
	return accountOrNil(args.Get(0)), args.Error(1)
}

func (m *mockAccountService) Suspend(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	args := m.Called(ctx, id, reason, actor)
	return accountOrNil(args.Get(0)), args.Error(1)
}

func (m *mockAccountService) Reinstate(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	args := m.Called(ctx, id, reason, actor)
	return accountOrNil(args.Get(0)), args.Error(1)
}

func (m *mockAccountService) Close(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	args := m.Called(ctx, id, reason, actor)
	return accountOrNil(args.Get(0)), args.Error(1)
}

func accountOrNil(v any) *ledger.Account {
	a, _ := v.(*ledger.Account)
	return a
}

type mockBalanceReader struct {
	mock.Mock
}

func (m *mockBalanceReader) GetBalance(ctx context.Context, accountID uuid.UUID) (ledger.BalanceView, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(ledger.BalanceView), args.Error(1)
}

func (m *mockBalanceReader) VerifyChain(ctx context.Context, accountID uuid.UUID) (*appledger.ChainReport, error) {
	args := m.Called(ctx, accountID)
	report, _ := args.Get(0).(*appledger.ChainReport)
	return report, args.Error(1)
}

type mockLedgerQueries struct {
	mock.Mock
}

func (m *mockLedgerQueries) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.LedgerTransaction, error) {
	args := m.Called(ctx, id)
	tx, _ := args.Get(0).(*ledger.LedgerTransaction)
	return tx, args.Error(1)
}

func (m *mockLedgerQueries) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.LedgerTransaction, int64, error) {
	args := m.Called(ctx, filter)
	txs, _ := args.Get(0).([]ledger.LedgerTransaction)
	return txs, args.Get(1).(int64), args.Error(2)
}

func (m *mockLedgerQueries) ListEntries(ctx context.Context, accountID uuid.UUID, afterSequence int64, limit int) (*appledger.EntryPage, error) {
	args := m.Called(ctx, accountID, afterSequence, limit)
	page, _ := args.Get(0).(*appledger.EntryPage)
	return page, args.Error(1)
}

type mockPostingService struct {
	mock.Mock
}

func (m *mockPostingService) Deposit(ctx context.Context, req appledger.ExternalMovementRequest, actor audit.Actor) (*appledger.PostingResult, error) {
	args := m.Called(ctx, req, actor)
	return postingOrNil(args.Get(0)), args.Error(1)
}

func (m *mockPostingService) Withdraw(ctx context.Context, req appledger.ExternalMovementRequest, actor audit.Actor) (*appledger.PostingResult, error) {
	args := m.Called(ctx, req, actor)
	return postingOrNil(args.Get(0)), args.Error(1)
}

func (m *mockPostingService) Transfer(ctx context.Context, req appledger.TransferRequest, actor audit.Actor) (*appledger.PostingResult, error) {
	args := m.Called(ctx, req, actor)
	return postingOrNil(args.Get(0)), args.Error(1)
}

func (m *mockPostingService) Reverse(ctx context.Context, txID uuid.UUID, reason string, actor audit.Actor) (*appledger.PostingResult, error) {
	args := m.Called(ctx, txID, reason, actor)
	return postingOrNil(args.Get(0)), args.Error(1)
}

func (m *mockPostingService) Adjust(ctx context.Context, params ledger.PostingParams, reason string, actor audit.Actor) (*appledger.PostingResult, error) {
	args := m.Called(ctx, params, reason, actor)
	return postingOrNil(args.Get(0)), args.Error(1)
}

func postingOrNil(v any) *appledger.PostingResult {
	r, _ := v.(*appledger.PostingResult)
	return r
}

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, params trading.OrderParams, actor audit.Actor) (*trading.Order, error) {
	args := m.Called(ctx, params, actor)
	order, _ := args.Get(0).(*trading.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*trading.Order, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*trading.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) AcceptOrder(ctx context.Context, id uuid.UUID, actor audit.Actor) (*trading.Order, error) {
	args := m.Called(ctx, id, actor)
	order, _ := args.Get(0).(*trading.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) RejectOrder(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*trading.Order, error) {
	args := m.Called(ctx, id, reason, actor)
	order, _ := args.Get(0).(*trading.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) CancelOrder(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*trading.Order, error) {
	args := m.Called(ctx, id, reason, actor)
	order, _ := args.Get(0).(*trading.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) RecordTrade(ctx context.Context, req apptrading.RecordTradeRequest, actor audit.Actor) (*apptrading.TradeResult, error) {
	args := m.Called(ctx, req, actor)
	result, _ := args.Get(0).(*apptrading.TradeResult)
	return result, args.Error(1)
}

type mockSettlementService struct {
	mock.Mock
}

func (m *mockSettlementService) GetSettlement(ctx context.Context, id uuid.UUID) (*trading.Settlement, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*trading.Settlement)
	return s, args.Error(1)
}

func (m *mockSettlementService) SettleTrade(ctx context.Context, settlementID uuid.UUID, actor audit.Actor) (*trading.Settlement, error) {
	args := m.Called(ctx, settlementID, actor)
	s, _ := args.Get(0).(*trading.Settlement)
	return s, args.Error(1)
}

func (m *mockSettlementService) RollBackSettlement(ctx context.Context, settlementID uuid.UUID, reason string, actor audit.Actor) (*trading.Settlement, error) {
	args := m.Called(ctx, settlementID, reason, actor)
	s, _ := args.Get(0).(*trading.Settlement)
	return s, args.Error(1)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, t reconciliation.RunType, w reconciliation.Window, sourceNames []string) (*apprecon.Result, error) {
	args := m.Called(ctx, t, w, sourceNames)
	result, _ := args.Get(0).(*apprecon.Result)
	return result, args.Error(1)
}

func (m *mockReconciler) GetRun(ctx context.Context, id uuid.UUID) (*reconciliation.Run, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*reconciliation.Run)
	return run, args.Error(1)
}

func (m *mockReconciler) ListRuns(ctx context.Context, filter reconciliation.RunFilter) ([]reconciliation.Run, int64, error) {
	args := m.Called(ctx, filter)
	runs, _ := args.Get(0).([]reconciliation.Run)
	return runs, args.Get(1).(int64), args.Error(2)
}

func (m *mockReconciler) ReportLink(ctx context.Context, id uuid.UUID) (*apprecon.ReportLink, error) {
	args := m.Called(ctx, id)
	link, _ := args.Get(0).(*apprecon.ReportLink)
	return link, args.Error(1)
}

func (m *mockReconciler) Sources() []string {
	args := m.Called()
	sources, _ := args.Get(0).([]string)
	return sources
}

type mockAuditLog struct {
	mock.Mock
}

func (m *mockAuditLog) List(ctx context.Context, filter audit.Filter) (*appaudit.Page, error) {
	args := m.Called(ctx, filter)
	page, _ := args.Get(0).(*appaudit.Page)
	return page, args.Error(1)
}

type mockOutboxAdmin struct {
	mock.Mock
}

func (m *mockOutboxAdmin) Stats(ctx context.Context) (*appevent.OutboxStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*appevent.OutboxStats)
	return stats, args.Error(1)
}

func (m *mockOutboxAdmin) DeadLetters(ctx context.Context, limit int) ([]appevent.OutboxEntryView, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]appevent.OutboxEntryView)
	return entries, args.Error(1)
}

func (m *mockOutboxAdmin) GetEntry(ctx context.Context, id uuid.UUID) (*appevent.OutboxEntryView, error) {
	args := m.Called(ctx, id)
	entry, _ := args.Get(0).(*appevent.OutboxEntryView)
	return entry, args.Error(1)
}

func (m *mockOutboxAdmin) Retry(ctx context.Context, id uuid.UUID) (*appevent.OutboxEntryView, error) {
	args := m.Called(ctx, id)
	entry, _ := args.Get(0).(*appevent.OutboxEntryView)
	return entry, args.Error(1)
}

func (m *mockOutboxAdmin) RetryAll(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// withClaims authenticates every request on the engine as subject with roles
func withClaims(subject string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := &auth.Claims{Roles: roles}
		claims.Subject = subject
		c.Set(middleware.JWTClaimsKey, claims)
		c.Next()
	}
}

func performRequest(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// apiResponse mirrors dto.Response with the data left raw
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
	Meta    *dto.Meta       `json:"meta"`
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
