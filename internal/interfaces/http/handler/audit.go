package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

// AuditHandler serves the audit trail
type AuditHandler struct {
	BaseHandler
	log AuditLog
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(log AuditLog) *AuditHandler {
	return &AuditHandler{log: log}
}

// List godoc
// @ID           listAudit
// @Summary      Query the audit trail
// @Tags         audit
// @Produce      json
// @Param        action      query    string false "Action, e.g. TRANSACTION_POSTED"
// @Param        actor_id    query    string false "Actor"
// @Param        entity_type query    string false "Entity type"
// @Param        entity_id   query    string false "Entity" format(uuid)
// @Param        from        query    string false "At or after (RFC3339)"
// @Param        to          query    string false "Before (RFC3339)"
// @Param        page        query    int    false "Page" default(1)
// @Param        page_size   query    int    false "Page size" default(20)
// @Success      200         {object} APIResponse[[]audit.Entry]
// @Failure      400         {object} ErrorResponse
// @Security     BearerAuth
// @Router       /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	var q dto.AuditQuery
	if !h.bindQuery(c, &q) {
		return
	}
	page, err := h.log.List(c.Request.Context(), q.ToFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Entries, page.Total, page.Page, page.PageSize)
}
