package shared

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// ErrorKind groups error codes by how callers are expected to react
type ErrorKind string

const (
	// ErrorKindValidation is rejected before any write and safe to retry with corrected input
	ErrorKindValidation ErrorKind = "VALIDATION"
	// ErrorKindConcurrency is a serialization conflict that survived automatic retries
	ErrorKindConcurrency ErrorKind = "CONCURRENCY"
	// ErrorKindIdempotency is a concurrent duplicate of an already handled request
	ErrorKindIdempotency ErrorKind = "IDEMPOTENCY"
	// ErrorKindProcessing is a per-item settlement or reconciliation failure
	ErrorKindProcessing ErrorKind = "PROCESSING"
	// ErrorKindNotFound means the addressed resource does not exist
	ErrorKindNotFound ErrorKind = "NOT_FOUND"
	// ErrorKindState means the operation is not allowed in the current state
	ErrorKindState ErrorKind = "STATE"
	// ErrorKindInfrastructure is a store or dependency failure
	ErrorKindInfrastructure ErrorKind = "INFRASTRUCTURE"
)

// DomainError represents a domain-level error with a stable code.
// Details carry identifiers of affected entities and never secrets.
type DomainError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Kind    ErrorKind         `json:"kind"`
	Details map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Details[k])
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
}

// Is matches any DomainError with the same code, so sentinels work with errors.Is
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of the error carrying an extra detail
func (e *DomainError) WithDetail(key, value string) *DomainError {
	details := make(map[string]string, len(e.Details)+1)
	maps.Copy(details, e.Details)
	details[key] = value
	return &DomainError{Code: e.Code, Message: e.Message, Kind: e.Kind, Details: details}
}

// WithMessage returns a copy of the error with a more specific message
func (e *DomainError) WithMessage(message string) *DomainError {
	return &DomainError{Code: e.Code, Message: message, Kind: e.Kind, Details: maps.Clone(e.Details)}
}

// NewDomainError creates a new validation-kind domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Kind:    ErrorKindValidation,
	}
}

// NewDomainErrorOfKind creates a domain error with an explicit kind
func NewDomainErrorOfKind(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Kind:    kind,
	}
}

// AsDomainError extracts a DomainError from an error chain
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of a domain error, or infrastructure for anything else
func KindOf(err error) ErrorKind {
	if de, ok := AsDomainError(err); ok {
		return de.Kind
	}
	return ErrorKindInfrastructure
}

// Common domain errors
var (
	ErrNotFound            = NewDomainErrorOfKind(ErrorKindNotFound, "NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainErrorOfKind(ErrorKindConcurrency, "CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrInvalidState        = NewDomainErrorOfKind(ErrorKindState, "INVALID_STATE", "Operation not allowed in current state")
	ErrInsufficientBalance = NewDomainError("INSUFFICIENT_BALANCE", "Insufficient balance available")
	ErrStoreTimeout        = NewDomainErrorOfKind(ErrorKindInfrastructure, "STORE_TIMEOUT", "Store lock or statement timeout exceeded")
)
