package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

// ReconciliationHandler starts and reports reconciliation runs
type ReconciliationHandler struct {
	BaseHandler
	engine Reconciler
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(engine Reconciler) *ReconciliationHandler {
	return &ReconciliationHandler{engine: engine}
}

// Start godoc
// @ID           startReconciliation
// @Summary      Reconcile a closed window
// @Description  A finished run for the same type and window is returned as-is with reused=true and status 200.
// @Description  An empty source list reconciles against every registered source.
// @Tags         reconciliations
// @Accept       json
// @Produce      json
// @Param        request body     dto.ReconcileRequest true "Run"
// @Success      201     {object} APIResponse[dto.ReconcileResponse]
// @Success      200     {object} APIResponse[dto.ReconcileResponse]
// @Failure      400     {object} ErrorResponse
// @Failure      409     {object} ErrorResponse
// @Security     BearerAuth
// @Router       /reconciliations [post]
func (h *ReconciliationHandler) Start(c *gin.Context) {
	var req dto.ReconcileRequest
	if !h.bindJSON(c, &req) {
		return
	}
	window, err := req.Window()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	sources := req.Sources
	if len(sources) == 0 {
		sources = h.engine.Sources()
	}

	result, err := h.engine.Reconcile(c.Request.Context(), reconciliation.RunType(req.Type), window, sources)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	c.JSON(status, dto.NewSuccessResponse(dto.ReconcileResponse{Run: result.Run, Reused: result.Reused}))
}

// Get godoc
// @ID           getReconciliation
// @Summary      Get a reconciliation run with its discrepancies
// @Tags         reconciliations
// @Produce      json
// @Param        id  path     string true "Run ID" format(uuid)
// @Success      200 {object} APIResponse[reconciliation.Run]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /reconciliations/{id} [get]
func (h *ReconciliationHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	run, err := h.engine.GetRun(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, run)
}

// List godoc
// @ID           listReconciliations
// @Summary      List reconciliation runs
// @Tags         reconciliations
// @Produce      json
// @Param        type      query    string false "Run type" Enums(BALANCE, TRADE)
// @Param        status    query    string false "Run status"
// @Param        page      query    int    false "Page" default(1)
// @Param        page_size query    int    false "Page size" default(20)
// @Success      200       {object} APIResponse[[]reconciliation.Run]
// @Failure      400       {object} ErrorResponse
// @Security     BearerAuth
// @Router       /reconciliations [get]
func (h *ReconciliationHandler) List(c *gin.Context) {
	var q dto.RunListQuery
	if !h.bindQuery(c, &q) {
		return
	}
	filter := q.ToFilter()
	runs, total, err := h.engine.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, runs, total, filter.Page, filter.PageSize)
}

// Report godoc
// @ID           getReconciliationReport
// @Summary      Get a download link for a run's archived report
// @Description  The link is presigned and expires at expires_at.
// @Tags         reconciliations
// @Produce      json
// @Param        id  path     string true "Run ID" format(uuid)
// @Success      200 {object} dto.Response
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /reconciliations/{id}/report [get]
func (h *ReconciliationHandler) Report(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	link, err := h.engine.ReportLink(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, link)
}
