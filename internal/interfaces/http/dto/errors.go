package dto

import (
	"net/http"

	"github.com/tradeledger/backend/internal/domain/shared"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeInternal           = "ERR_INTERNAL"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"
)

// Request error codes
const (
	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeIdempotencyConflict = "ERR_IDEMPOTENCY_CONFLICT"
)

// Ledger rule error codes
const (
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
	ErrCodeInsufficientBalance = "ERR_INSUFFICIENT_BALANCE"
	ErrCodeAccountUnavailable  = "ERR_ACCOUNT_UNAVAILABLE"
	ErrCodeIdempotencyKeyReuse = "ERR_IDEMPOTENCY_KEY_REUSED"
	ErrCodeProcessing          = "ERR_PROCESSING"
	ErrCodeIntegrity           = "ERR_LEDGER_INTEGRITY"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeIdempotencyConflict: http.StatusConflict,

	ErrCodeInvalidState:        http.StatusUnprocessableEntity,
	ErrCodeInsufficientBalance: http.StatusUnprocessableEntity,
	ErrCodeAccountUnavailable:  http.StatusUnprocessableEntity,
	ErrCodeIdempotencyKeyReuse: http.StatusUnprocessableEntity,
	ErrCodeProcessing:          http.StatusUnprocessableEntity,
	ErrCodeIntegrity:           http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainCodeMapping pins domain codes whose kind alone is too coarse
var DomainCodeMapping = map[string]string{
	"INSUFFICIENT_BALANCE":   ErrCodeInsufficientBalance,
	"ACCOUNT_FROZEN":         ErrCodeAccountUnavailable,
	"ACCOUNT_SUSPENDED":      ErrCodeAccountUnavailable,
	"ACCOUNT_CLOSED":         ErrCodeAccountUnavailable,
	"ACCOUNT_NOT_FOUND":      ErrCodeNotFound,
	"ACCOUNT_EXISTS":         ErrCodeAlreadyExists,
	"ALREADY_EXISTS":         ErrCodeAlreadyExists,
	"IDEMPOTENCY_KEY_REUSED": ErrCodeIdempotencyKeyReuse,
	"UNAUTHORIZED":           ErrCodeUnauthorized,
	"FORBIDDEN":              ErrCodeForbidden,
	"STORE_TIMEOUT":          ErrCodeServiceUnavailable,
	"SEQUENCE_GAP":           ErrCodeIntegrity,
	"BALANCE_CHAIN_BROKEN":   ErrCodeIntegrity,
}

var kindCodes = map[shared.ErrorKind]string{
	shared.ErrorKindValidation:     ErrCodeValidation,
	shared.ErrorKindNotFound:       ErrCodeNotFound,
	shared.ErrorKindState:          ErrCodeInvalidState,
	shared.ErrorKindConcurrency:    ErrCodeConcurrencyConflict,
	shared.ErrorKindIdempotency:    ErrCodeIdempotencyConflict,
	shared.ErrorKindProcessing:     ErrCodeProcessing,
	shared.ErrorKindInfrastructure: ErrCodeInternal,
}

// ErrorCodeFor maps a domain error to its stable ERR_* code, first by code
// and then by kind
func ErrorCodeFor(err *shared.DomainError) string {
	if code, ok := DomainCodeMapping[err.Code]; ok {
		return code
	}
	if code, ok := kindCodes[err.Kind]; ok {
		return code
	}
	return ErrCodeInternal
}
