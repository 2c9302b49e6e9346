package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

// DatabaseProbe reports store liveness and pool usage
type DatabaseProbe interface {
	Ping() error
	Stats() (persistence.ConnectionStats, error)
}

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	db        DatabaseProbe
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db DatabaseProbe) *HealthHandler {
	return &HealthHandler{db: db, startTime: time.Now()}
}

// PoolStats is the connection pool section of the health report
type PoolStats struct {
	MaxOpen      int    `json:"max_open"`
	Open         int    `json:"open"`
	InUse        int    `json:"in_use"`
	Idle         int    `json:"idle"`
	WaitCount    int64  `json:"wait_count"`
	WaitDuration string `json:"wait_duration"`
}

// HealthResponse is the health report
type HealthResponse struct {
	Status   string     `json:"status" example:"healthy"`
	Time     string     `json:"time" example:"2026-01-05T09:00:00Z"`
	Uptime   string     `json:"uptime" example:"1h30m0s"`
	Database string     `json:"database" example:"ok"`
	Pool     *PoolStats `json:"pool,omitempty"`
}

// Health godoc
// @ID           health
// @Summary      Health check
// @Description  Pings the database and reports connection pool usage.
// @Tags         system
// @Produce      json
// @Success      200 {object} HealthResponse
// @Failure      503 {object} HealthResponse
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:   "healthy",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
		Database: "ok",
	}

	if err := h.db.Ping(); err != nil {
		logger.GetGinLogger(c).Warn("Health check failed", zap.Error(err))
		resp.Status, resp.Database = "unhealthy", "error"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	if stats, err := h.db.Stats(); err == nil {
		resp.Pool = &PoolStats{
			MaxOpen:      stats.MaxOpenConnections,
			Open:         stats.OpenConnections,
			InUse:        stats.InUse,
			Idle:         stats.Idle,
			WaitCount:    stats.WaitCount,
			WaitDuration: stats.WaitDuration.String(),
		}
	}
	c.JSON(http.StatusOK, resp)
}
