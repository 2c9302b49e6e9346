package ledger

import (
	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// Aggregate type names used in events and audit entries
const (
	AggregateTypeAccount     = "Account"
	AggregateTypeTransaction = "LedgerTransaction"
	AggregateTypeHold        = "EscrowHold"
)

// AccountOpenedEvent is raised when an account is created
type AccountOpenedEvent struct {
	shared.BaseDomainEvent
	AccountID uuid.UUID            `json:"account_id"`
	Code      string               `json:"code"`
	OwnerID   *uuid.UUID           `json:"owner_id,omitempty"`
	Type      AccountType          `json:"type"`
	Currency  valueobject.Currency `json:"currency"`
}

// EventType returns the event type name
func (e *AccountOpenedEvent) EventType() string {
	return "AccountOpened"
}

// NewAccountOpenedEvent creates a new AccountOpenedEvent
func NewAccountOpenedEvent(a *Account) *AccountOpenedEvent {
	return &AccountOpenedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("AccountOpened", AggregateTypeAccount, a.ID),
		AccountID:       a.ID,
		Code:            a.Code,
		OwnerID:         a.OwnerID,
		Type:            a.Type,
		Currency:        a.Currency,
	}
}

// AccountStatusChangedEvent is raised on every administrative status transition
type AccountStatusChangedEvent struct {
	shared.BaseDomainEvent
	AccountID uuid.UUID     `json:"account_id"`
	From      AccountStatus `json:"from"`
	To        AccountStatus `json:"to"`
	Reason    string        `json:"reason,omitempty"`
}

// EventType returns the event type name
func (e *AccountStatusChangedEvent) EventType() string {
	return "AccountStatusChanged"
}

// NewAccountStatusChangedEvent creates a new AccountStatusChangedEvent
func NewAccountStatusChangedEvent(a *Account, from AccountStatus) *AccountStatusChangedEvent {
	return &AccountStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("AccountStatusChanged", AggregateTypeAccount, a.ID),
		AccountID:       a.ID,
		From:            from,
		To:              a.Status,
		Reason:          a.StatusReason,
	}
}
