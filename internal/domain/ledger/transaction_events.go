package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// Event type names for ledger transactions
const (
	EventTypeTransactionCommitted = "LedgerTransactionCommitted"
	EventTypeTransactionFailed    = "LedgerTransactionFailed"
	EventTypeTransactionReversed  = "LedgerTransactionReversed"
)

// EntryPosted is the projection-facing view of a committed entry
type EntryPosted struct {
	AccountID    uuid.UUID       `json:"account_id"`
	EntryType    EntryType       `json:"entry_type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Sequence     int64           `json:"sequence"`
}

// TransactionCommittedEvent feeds the real-time projection with every committed posting
type TransactionCommittedEvent struct {
	shared.BaseDomainEvent
	TransactionID uuid.UUID            `json:"transaction_id"`
	Type          TransactionType      `json:"type"`
	Currency      valueobject.Currency `json:"currency"`
	Amount        decimal.Decimal      `json:"amount"`
	Reference     *Reference           `json:"reference,omitempty"`
	Entries       []EntryPosted        `json:"entries"`
	CommittedAt   time.Time            `json:"committed_at"`
}

// EventType returns the event type name
func (e *TransactionCommittedEvent) EventType() string {
	return EventTypeTransactionCommitted
}

// NewTransactionCommittedEvent creates a new TransactionCommittedEvent
func NewTransactionCommittedEvent(t *LedgerTransaction) *TransactionCommittedEvent {
	entries := make([]EntryPosted, 0, len(t.Entries))
	for _, e := range t.Entries {
		entries = append(entries, EntryPosted{
			AccountID:    e.AccountID,
			EntryType:    e.EntryType,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			Sequence:     e.Sequence,
		})
	}
	committedAt := time.Now().UTC()
	if t.CommittedAt != nil {
		committedAt = *t.CommittedAt
	}
	return &TransactionCommittedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionCommitted, AggregateTypeTransaction, t.ID),
		TransactionID:   t.ID,
		Type:            t.Type,
		Currency:        t.Currency,
		Amount:          t.Amount,
		Reference:       t.Reference,
		Entries:         entries,
		CommittedAt:     committedAt,
	}
}

// TransactionFailedEvent is published in-process when a posting is rejected
type TransactionFailedEvent struct {
	shared.BaseDomainEvent
	TransactionID uuid.UUID            `json:"transaction_id"`
	Type          TransactionType      `json:"type"`
	Currency      valueobject.Currency `json:"currency"`
	Amount        decimal.Decimal      `json:"amount"`
	Reason        string               `json:"reason"`
}

// EventType returns the event type name
func (e *TransactionFailedEvent) EventType() string {
	return EventTypeTransactionFailed
}

// NewTransactionFailedEvent creates a new TransactionFailedEvent
func NewTransactionFailedEvent(t *LedgerTransaction) *TransactionFailedEvent {
	return &TransactionFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionFailed, AggregateTypeTransaction, t.ID),
		TransactionID:   t.ID,
		Type:            t.Type,
		Currency:        t.Currency,
		Amount:          t.Amount,
		Reason:          t.FailureReason,
	}
}

// TransactionReversedEvent is raised when a compensating reversal commits
type TransactionReversedEvent struct {
	shared.BaseDomainEvent
	TransactionID uuid.UUID `json:"transaction_id"`
	ReversedByID  uuid.UUID `json:"reversed_by_id"`
}

// EventType returns the event type name
func (e *TransactionReversedEvent) EventType() string {
	return EventTypeTransactionReversed
}

// NewTransactionReversedEvent creates a new TransactionReversedEvent
func NewTransactionReversedEvent(t *LedgerTransaction) *TransactionReversedEvent {
	var reversedBy uuid.UUID
	if t.ReversedByID != nil {
		reversedBy = *t.ReversedByID
	}
	return &TransactionReversedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionReversed, AggregateTypeTransaction, t.ID),
		TransactionID:   t.ID,
		ReversedByID:    reversedBy,
	}
}
