package ledger

import "github.com/tradeledger/backend/internal/domain/shared"

// Ledger error codes. Each maps to a stable API error code.
var (
	ErrUnbalancedEntries   = shared.NewDomainError("UNBALANCED_ENTRIES", "Sum of debits does not equal sum of credits")
	ErrInsufficientEntries = shared.NewDomainError("INSUFFICIENT_ENTRIES", "A transaction needs at least two entries")
	ErrInvalidAmount       = shared.NewDomainError("INVALID_AMOUNT", "Amount must be non-negative and within currency precision")
	ErrNominalMismatch     = shared.NewDomainError("NOMINAL_AMOUNT_MISMATCH", "Transaction amount must equal the sum of debits")
	ErrInvalidCurrency     = shared.NewDomainError("INVALID_CURRENCY", "Currency is not supported")
	ErrCurrencyMismatch    = shared.NewDomainError("CURRENCY_MISMATCH", "Entry currency does not match account currency")
	ErrInvalidType         = shared.NewDomainError("INVALID_TRANSACTION_TYPE", "Transaction type is not supported")
	ErrAccountNotFound     = shared.NewDomainError("ACCOUNT_NOT_FOUND", "Account does not exist")
	ErrAccountFrozen       = shared.NewDomainError("ACCOUNT_FROZEN", "Account is frozen")
	ErrAccountSuspended    = shared.NewDomainError("ACCOUNT_SUSPENDED", "Account is suspended")
	ErrAccountClosed       = shared.NewDomainError("ACCOUNT_CLOSED", "Account is closed")
	ErrAccountExists       = shared.NewDomainError("ACCOUNT_EXISTS", "Account already exists")
	ErrAccountNotEmpty     = shared.NewDomainErrorOfKind(shared.ErrorKindState, "ACCOUNT_NOT_EMPTY", "Account still carries a balance or active holds")
	ErrInvalidAccountType  = shared.NewDomainError("INVALID_ACCOUNT_TYPE", "Account type is not valid for this operation")
	ErrAccountTransition   = shared.NewDomainErrorOfKind(shared.ErrorKindState, "INVALID_ACCOUNT_TRANSITION", "Account status transition is not allowed")
	ErrInsufficientBalance = shared.ErrInsufficientBalance
	ErrReserveAccess       = shared.NewDomainError("RESERVE_ACCESS_DENIED", "Transaction type may not touch platform reserve accounts")

	ErrIdempotencyConflict = shared.NewDomainErrorOfKind(shared.ErrorKindIdempotency, "IDEMPOTENCY_CONFLICT", "A request with this idempotency key is in flight")
	ErrIdempotencyKeyReuse = shared.NewDomainError("IDEMPOTENCY_KEY_REUSED", "Idempotency key was used for a different request")
	ErrInvalidIdempotency  = shared.NewDomainError("INVALID_IDEMPOTENCY_KEY", "Idempotency key is malformed")

	ErrTransactionNotFound = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "TRANSACTION_NOT_FOUND", "Ledger transaction not found")
	ErrTransactionState    = shared.NewDomainErrorOfKind(shared.ErrorKindState, "INVALID_STATE", "Transaction status does not allow this operation")
	ErrHoldNotFound        = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "HOLD_NOT_FOUND", "Escrow hold not found")
	ErrHoldNotActive       = shared.NewDomainErrorOfKind(shared.ErrorKindState, "HOLD_NOT_ACTIVE", "Escrow hold is no longer active")
	ErrHoldExceeded        = shared.NewDomainError("HOLD_EXCEEDED", "Amount exceeds the remaining escrow hold")

	ErrSequenceGap = shared.NewDomainErrorOfKind(shared.ErrorKindInfrastructure, "SEQUENCE_GAP", "Account entry sequence is not contiguous")
	ErrBrokenChain = shared.NewDomainErrorOfKind(shared.ErrorKindInfrastructure, "BALANCE_CHAIN_BROKEN", "Entry balance does not follow from its predecessor")
)

// ErrReasonRequired is returned when an administrative correction carries no reason
var ErrReasonRequired = shared.NewDomainError("REASON_REQUIRED", "Administrative corrections need a reason")
