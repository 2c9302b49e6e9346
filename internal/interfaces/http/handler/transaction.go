package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

// TransactionHandler posts and queries ledger transactions
type TransactionHandler struct {
	BaseHandler
	postings PostingService
	queries  LedgerQueries
}

// NewTransactionHandler creates a new TransactionHandler
func NewTransactionHandler(postings PostingService, queries LedgerQueries) *TransactionHandler {
	return &TransactionHandler{postings: postings, queries: queries}
}

// Create godoc
// @ID           createTransaction
// @Summary      Post a deposit, withdrawal or transfer
// @Description  Replaying an idempotency key with the same body returns the original transaction with 200.
// @Description  Reusing a key with a different body is rejected with 409.
// @Tags         transactions
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key header   string              false "Used when the body carries no idempotency_key"
// @Param        request         body     dto.MovementRequest true  "Movement"
// @Success      201             {object} APIResponse[dto.PostingResponse]
// @Success      200             {object} APIResponse[dto.PostingResponse]
// @Failure      400             {object} ErrorResponse
// @Failure      409             {object} ErrorResponse
// @Failure      422             {object} ErrorResponse
// @Security     BearerAuth
// @Router       /transactions [post]
func (h *TransactionHandler) Create(c *gin.Context) {
	var req dto.MovementRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	var (
		result *appledger.PostingResult
		err    error
	)
	ctx := c.Request.Context()
	switch req.Type {
	case dto.MovementDeposit:
		result, err = h.postings.Deposit(ctx, req.ExternalMovement(), actor(c))
	case dto.MovementWithdrawal:
		result, err = h.postings.Withdraw(ctx, req.ExternalMovement(), actor(c))
	default:
		result, err = h.postings.Transfer(ctx, req.Transfer(), actor(c))
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.posted(c, result)
}

// Get godoc
// @ID           getTransaction
// @Summary      Get a ledger transaction with its entries
// @Tags         transactions
// @Produce      json
// @Param        id  path     string true "Transaction ID" format(uuid)
// @Success      200 {object} APIResponse[ledger.LedgerTransaction]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /transactions/{id} [get]
func (h *TransactionHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	tx, err := h.queries.GetTransaction(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, tx)
}

// List godoc
// @ID           listTransactions
// @Summary      List ledger transactions
// @Tags         transactions
// @Produce      json
// @Param        account_id query    string false "Touching account" format(uuid)
// @Param        type       query    string false "Transaction type"
// @Param        status     query    string false "Status" Enums(PENDING, COMMITTED, FAILED, REVERSED)
// @Param        from       query    string false "Created at or after (RFC3339)"
// @Param        to         query    string false "Created before (RFC3339)"
// @Param        page       query    int    false "Page" default(1)
// @Param        page_size  query    int    false "Page size" default(20)
// @Success      200        {object} APIResponse[[]ledger.LedgerTransaction]
// @Failure      400        {object} ErrorResponse
// @Security     BearerAuth
// @Router       /transactions [get]
func (h *TransactionHandler) List(c *gin.Context) {
	var q dto.TransactionListQuery
	if !h.bindQuery(c, &q) {
		return
	}
	filter := q.ToFilter()
	txs, total, err := h.queries.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, txs, total, filter.Page, filter.PageSize)
}

// Reverse godoc
// @ID           reverseTransaction
// @Summary      Reverse a committed transaction
// @Description  Posts a mirror transaction and marks the original REVERSED. A transaction is reversed at most once.
// @Tags         transactions
// @Accept       json
// @Produce      json
// @Param        id      path     string            true "Transaction ID" format(uuid)
// @Param        request body     dto.ReasonRequest true "Reason"
// @Success      201     {object} APIResponse[dto.PostingResponse]
// @Failure      404     {object} ErrorResponse
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /transactions/{id}/reverse [post]
func (h *TransactionHandler) Reverse(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.postings.Reverse(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.posted(c, result)
}

// Adjust godoc
// @ID           createAdjustment
// @Summary      Post an administrative adjustment
// @Description  Explicit balanced legs with a mandatory reason.
// @Tags         transactions
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key header   string                true "Used when the body carries no idempotency_key"
// @Param        request         body     dto.AdjustmentRequest true "Adjustment"
// @Success      201             {object} APIResponse[dto.PostingResponse]
// @Failure      400             {object} ErrorResponse
// @Failure      422             {object} ErrorResponse
// @Security     BearerAuth
// @Router       /adjustments [post]
func (h *TransactionHandler) Adjust(c *gin.Context) {
	var req dto.AdjustmentRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(c, req.IdempotencyKey)

	who := actor(c)
	result, err := h.postings.Adjust(c.Request.Context(), req.ToParams(who.ID), req.Reason, who)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.posted(c, result)
}

// posted answers 201 for a new posting and 200 for an idempotent replay
func (h *TransactionHandler) posted(c *gin.Context, result *appledger.PostingResult) {
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, dto.NewSuccessResponse(dto.NewPostingResponse(result)))
}
