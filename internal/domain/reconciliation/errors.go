package reconciliation

import "github.com/tradeledger/backend/internal/domain/shared"

var (
	ErrRunNotFound    = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "RECONCILIATION_RUN_NOT_FOUND", "Reconciliation run not found")
	ErrInvalidWindow  = shared.NewDomainError("INVALID_WINDOW", "Window start must be before window end")
	ErrNoSources      = shared.NewDomainError("NO_SOURCES", "At least one reconciliation source is required")
	ErrUnknownSource  = shared.NewDomainError("UNKNOWN_SOURCE", "Reconciliation source is not registered")
	ErrSourceMismatch = shared.NewDomainError("SOURCE_TYPE_MISMATCH", "Source cannot serve this reconciliation type")
	ErrRunFailed      = shared.NewDomainErrorOfKind(shared.ErrorKindProcessing, "RECONCILIATION_FAILED", "Reconciliation run failed")
	ErrNoReport       = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "REPORT_NOT_ARCHIVED", "Reconciliation run has no archived report")
)
