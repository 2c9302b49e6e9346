package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response, deriving the status from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// HandleError renders a service error. Domain errors keep their code and
// details; anything else is logged and reported as internal.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := middleware.GetRequestID(c)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		resp := dto.NewDomainErrorResponse(domainErr, requestID)
		status := dto.GetHTTPStatus(resp.Error.Code)
		if status >= http.StatusInternalServerError {
			logger.GetGinLogger(c).Error("request failed",
				zap.String("code", domainErr.Code),
				zap.Error(err))
		}
		c.JSON(status, resp)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		logger.GetGinLogger(c).Warn("request deadline exceeded", zap.Error(err))
		h.Error(c, dto.ErrCodeServiceUnavailable, "The request did not complete in time")
		return
	}

	logger.GetGinLogger(c).Error("unexpected error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal,
		"An unexpected error occurred",
		requestID,
	))
}

// bindJSON binds and validates the body, writing a 400 on failure
func (h *BaseHandler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// bindQuery binds and validates query parameters, writing a 400 on failure
func (h *BaseHandler) bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// pathID parses the :id path parameter, writing a 400 on failure
func (h *BaseHandler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, dto.ErrCodeValidation, "Invalid id: must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// actor returns the authenticated caller. Routes without authentication act
// as the HTTP API system actor.
func actor(c *gin.Context) audit.Actor {
	if a, ok := middleware.GetActor(c); ok {
		return a
	}
	return audit.SystemActor("http")
}

// idempotencyKey prefers the key in the body over the Idempotency-Key
// header and records it on the request logger
func idempotencyKey(c *gin.Context, fromBody string) string {
	key := fromBody
	if key == "" {
		key = c.GetHeader(middleware.HeaderIdempotencyKey)
	}
	if key != "" {
		ctx, log := logger.WithIdempotencyKey(c.Request.Context(), logger.GetGinLogger(c), key)
		c.Request = c.Request.WithContext(ctx)
		c.Set(logger.GinLoggerKey, log)
	}
	return key
}
