package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

// AccountHandler serves the account registry and per-account reads
type AccountHandler struct {
	BaseHandler
	accounts AccountService
	balances BalanceReader
	queries  LedgerQueries
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts AccountService, balances BalanceReader, queries LedgerQueries) *AccountHandler {
	return &AccountHandler{accounts: accounts, balances: balances, queries: queries}
}

// Open godoc
// @ID           openAccount
// @Summary      Open a user account
// @Description  Opens a USER_WALLET or USER_ESCROW account. Platform accounts are created on demand by the ledger.
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request body     dto.OpenAccountRequest true "Account to open"
// @Success      201     {object} APIResponse[ledger.Account]
// @Failure      400     {object} ErrorResponse
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts [post]
func (h *AccountHandler) Open(c *gin.Context) {
	var req dto.OpenAccountRequest
	if !h.bindJSON(c, &req) {
		return
	}
	account, err := h.accounts.OpenUserAccount(c.Request.Context(), req.ToRequest(), actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, account)
}

// Get godoc
// @ID           getAccount
// @Summary      Get an account
// @Tags         accounts
// @Produce      json
// @Param        id  path     string true "Account ID" format(uuid)
// @Success      200 {object} APIResponse[ledger.Account]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	account, err := h.accounts.GetAccount(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, account)
}

// List godoc
// @ID           listAccounts
// @Summary      List accounts
// @Tags         accounts
// @Produce      json
// @Param        owner_id  query    string false "Owner" format(uuid)
// @Param        type      query    string false "Account type"
// @Param        status    query    string false "Status" Enums(ACTIVE, FROZEN, SUSPENDED, CLOSED)
// @Param        currency  query    string false "Currency"
// @Param        page      query    int    false "Page" default(1)
// @Param        page_size query    int    false "Page size" default(20)
// @Success      200       {object} APIResponse[[]ledger.Account]
// @Failure      400       {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	var q dto.AccountListQuery
	if !h.bindQuery(c, &q) {
		return
	}
	filter := q.ToFilter()
	accounts, total, err := h.accounts.ListAccounts(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, accounts, total, filter.Page, filter.PageSize)
}

// Balance godoc
// @ID           getAccountBalance
// @Summary      Get an account balance
// @Description  Derived from the entry chain. Wallets also report the amount held in escrow.
// @Tags         accounts
// @Produce      json
// @Param        id  path     string true "Account ID" format(uuid)
// @Success      200 {object} APIResponse[ledger.BalanceView]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/balance [get]
func (h *AccountHandler) Balance(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	view, err := h.balances.GetBalance(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// VerifyChain godoc
// @ID           verifyAccountChain
// @Summary      Verify an account's entry chain
// @Description  Walks every entry and checks sequence continuity and running balances.
// @Tags         accounts
// @Produce      json
// @Param        id  path     string true "Account ID" format(uuid)
// @Success      200 {object} APIResponse[appledger.ChainReport]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/chain [get]
func (h *AccountHandler) VerifyChain(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	report, err := h.balances.VerifyChain(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Entries godoc
// @ID           listAccountEntries
// @Summary      Page an account's entries by sequence
// @Tags         accounts
// @Produce      json
// @Param        id    path     string true  "Account ID" format(uuid)
// @Param        after query    int    false "Return entries with a greater sequence" default(0)
// @Param        limit query    int    false "Page size" default(100)
// @Success      200   {object} APIResponse[appledger.EntryPage]
// @Failure      400   {object} ErrorResponse
// @Failure      404   {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/entries [get]
func (h *AccountHandler) Entries(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var q dto.EntriesQuery
	if !h.bindQuery(c, &q) {
		return
	}
	page, err := h.queries.ListEntries(c.Request.Context(), id, q.After, q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, page)
}

type statusChange func(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error)

func (h *AccountHandler) changeStatus(c *gin.Context, change statusChange) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req dto.StatusChangeRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	account, err := change(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, account)
}

// Freeze godoc
// @ID           freezeAccount
// @Summary      Freeze an account
// @Description  A frozen account accepts credits but no debits.
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id      path     string                  true  "Account ID" format(uuid)
// @Param        request body     dto.StatusChangeRequest false "Reason"
// @Success      200     {object} APIResponse[ledger.Account]
// @Failure      404     {object} ErrorResponse
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/freeze [post]
func (h *AccountHandler) Freeze(c *gin.Context) {
	h.changeStatus(c, h.accounts.Freeze)
}

// Unfreeze godoc
// @ID           unfreezeAccount
// @Summary      Unfreeze an account
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id      path     string                  true  "Account ID" format(uuid)
// @Param        request body     dto.StatusChangeRequest false "Reason"
// @Success      200     {object} APIResponse[ledger.Account]
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/unfreeze [post]
func (h *AccountHandler) Unfreeze(c *gin.Context) {
	h.changeStatus(c, h.accounts.Unfreeze)
}

// Suspend godoc
// @ID           suspendAccount
// @Summary      Suspend an account
// @Description  A suspended account accepts no postings.
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id      path     string                  true  "Account ID" format(uuid)
// @Param        request body     dto.StatusChangeRequest false "Reason"
// @Success      200     {object} APIResponse[ledger.Account]
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/suspend [post]
func (h *AccountHandler) Suspend(c *gin.Context) {
	h.changeStatus(c, h.accounts.Suspend)
}

// Reinstate godoc
// @ID           reinstateAccount
// @Summary      Reinstate a suspended account
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id      path     string                  true  "Account ID" format(uuid)
// @Param        request body     dto.StatusChangeRequest false "Reason"
// @Success      200     {object} APIResponse[ledger.Account]
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/reinstate [post]
func (h *AccountHandler) Reinstate(c *gin.Context) {
	h.changeStatus(c, h.accounts.Reinstate)
}

// Close godoc
// @ID           closeAccount
// @Summary      Close an account
// @Description  Only zero-balance accounts can be closed. Closing is terminal.
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id      path     string                  true  "Account ID" format(uuid)
// @Param        request body     dto.StatusChangeRequest false "Reason"
// @Success      200     {object} APIResponse[ledger.Account]
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /accounts/{id}/close [post]
func (h *AccountHandler) Close(c *gin.Context) {
	h.changeStatus(c, h.accounts.Close)
}
