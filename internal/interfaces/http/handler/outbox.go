package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

// OutboxHandler exposes event delivery state to operators
type OutboxHandler struct {
	BaseHandler
	outbox OutboxAdmin
}

// NewOutboxHandler creates a new OutboxHandler
func NewOutboxHandler(outbox OutboxAdmin) *OutboxHandler {
	return &OutboxHandler{outbox: outbox}
}

// Stats godoc
// @ID           outboxStats
// @Summary      Count outbox entries per delivery status
// @Tags         outbox
// @Produce      json
// @Success      200 {object} APIResponse[appevent.OutboxStats]
// @Security     BearerAuth
// @Router       /outbox/stats [get]
func (h *OutboxHandler) Stats(c *gin.Context) {
	stats, err := h.outbox.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// DeadLetters godoc
// @ID           listDeadLetters
// @Summary      List dead-lettered events
// @Tags         outbox
// @Produce      json
// @Param        limit query    int false "Maximum entries" default(50)
// @Success      200   {object} APIResponse[[]appevent.OutboxEntryView]
// @Failure      400   {object} ErrorResponse
// @Security     BearerAuth
// @Router       /outbox/dead-letters [get]
func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	var q dto.DeadLetterQuery
	if !h.bindQuery(c, &q) {
		return
	}
	entries, err := h.outbox.DeadLetters(c.Request.Context(), q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entries)
}

// RetryAll godoc
// @ID           retryDeadLetters
// @Summary      Requeue every dead-lettered event
// @Tags         outbox
// @Produce      json
// @Success      200 {object} APIResponse[dto.RetryAllResponse]
// @Security     BearerAuth
// @Router       /outbox/dead-letters/retry [post]
func (h *OutboxHandler) RetryAll(c *gin.Context) {
	n, err := h.outbox.RetryAll(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.RetryAllResponse{Requeued: n})
}

// Get godoc
// @ID           getOutboxEntry
// @Summary      Get an outbox entry
// @Tags         outbox
// @Produce      json
// @Param        id  path     string true "Entry ID" format(uuid)
// @Success      200 {object} APIResponse[appevent.OutboxEntryView]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /outbox/entries/{id} [get]
func (h *OutboxHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	entry, err := h.outbox.GetEntry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// Retry godoc
// @ID           retryOutboxEntry
// @Summary      Requeue one dead-lettered event
// @Tags         outbox
// @Produce      json
// @Param        id  path     string true "Entry ID" format(uuid)
// @Success      200 {object} APIResponse[appevent.OutboxEntryView]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /outbox/entries/{id}/retry [post]
func (h *OutboxHandler) Retry(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	entry, err := h.outbox.Retry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}
