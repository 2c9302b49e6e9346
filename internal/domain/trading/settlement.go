package trading

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// SettlementType is the settlement timing agreed for a trade
type SettlementType string

const (
	SettlementTypeInstant  SettlementType = "INSTANT"
	SettlementTypeStandard SettlementType = "STANDARD"
	SettlementTypeDeferred SettlementType = "DEFERRED"
)

// IsValid checks if the settlement type is known
func (t SettlementType) IsValid() bool {
	return t == SettlementTypeInstant || t == SettlementTypeStandard || t == SettlementTypeDeferred
}

// SettlementStatus represents the status of a settlement
type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "PENDING"
	SettlementStatusProcessing SettlementStatus = "PROCESSING"
	SettlementStatusCompleted  SettlementStatus = "COMPLETED"
	SettlementStatusFailed     SettlementStatus = "FAILED"
	SettlementStatusRolledBack SettlementStatus = "ROLLED_BACK"
)

// String returns the string representation of SettlementStatus
func (s SettlementStatus) String() string {
	return string(s)
}

// IsTerminal returns true for COMPLETED and ROLLED_BACK
func (s SettlementStatus) IsTerminal() bool {
	return s == SettlementStatusCompleted || s == SettlementStatusRolledBack
}

// Settlement is the financial realization of exactly one trade
type Settlement struct {
	shared.BaseAggregateRoot
	TradeID        uuid.UUID        `json:"trade_id"`
	Type           SettlementType   `json:"type"`
	Status         SettlementStatus `json:"status"`
	Attempts       int              `json:"attempts"`
	LastError      string           `json:"last_error,omitempty"`
	TransactionIDs []uuid.UUID      `json:"transaction_ids"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// NewSettlement creates the pending settlement obligation of a trade
func NewSettlement(trade *Trade, t SettlementType) (*Settlement, error) {
	if !t.IsValid() {
		return nil, shared.NewDomainError("INVALID_SETTLEMENT_TYPE", "Settlement type is not valid")
	}
	return &Settlement{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		TradeID:           trade.ID,
		Type:              t,
		Status:            SettlementStatusPending,
		TransactionIDs:    make([]uuid.UUID, 0, 1),
	}, nil
}

// IdempotencyKey is the ledger idempotency key of the settlement posting
func (s *Settlement) IdempotencyKey() string {
	return "settlement:" + s.ID.String()
}

// StartProcessing begins an attempt. PROCESSING is re-enterable so an attempt
// interrupted before commit can be retried.
func (s *Settlement) StartProcessing() error {
	switch s.Status {
	case SettlementStatusPending, SettlementStatusFailed, SettlementStatusProcessing:
	default:
		return s.transitionError(SettlementStatusProcessing)
	}
	s.Status = SettlementStatusProcessing
	s.Attempts++
	s.IncrementVersion()
	return nil
}

// Complete marks the settlement done in the unit of work that committed txIDs
func (s *Settlement) Complete(txIDs ...uuid.UUID) error {
	if s.Status != SettlementStatusProcessing {
		return s.transitionError(SettlementStatusCompleted)
	}
	now := time.Now().UTC()
	s.Status = SettlementStatusCompleted
	s.TransactionIDs = appendUnique(s.TransactionIDs, txIDs...)
	s.CompletedAt = &now
	s.LastError = ""
	s.IncrementVersion()
	s.AddDomainEvent(NewSettlementStatusChangedEvent(s, SettlementStatusProcessing))
	return nil
}

// Fail records a retryable failure
func (s *Settlement) Fail(reason string) error {
	if s.Status != SettlementStatusProcessing {
		return s.transitionError(SettlementStatusFailed)
	}
	s.Status = SettlementStatusFailed
	s.LastError = strings.TrimSpace(reason)
	s.IncrementVersion()
	s.AddDomainEvent(NewSettlementStatusChangedEvent(s, SettlementStatusProcessing))
	return nil
}

// RollBack terminates the settlement after compensating transactions were issued
func (s *Settlement) RollBack(reason string, compensating ...uuid.UUID) error {
	if s.Status != SettlementStatusProcessing && s.Status != SettlementStatusFailed {
		return s.transitionError(SettlementStatusRolledBack)
	}
	from := s.Status
	s.Status = SettlementStatusRolledBack
	s.LastError = strings.TrimSpace(reason)
	s.TransactionIDs = appendUnique(s.TransactionIDs, compensating...)
	s.IncrementVersion()
	s.AddDomainEvent(NewSettlementStatusChangedEvent(s, from))
	return nil
}

func (s *Settlement) transitionError(to SettlementStatus) error {
	return ErrSettlementTransition.
		WithDetail("settlement_id", s.ID.String()).
		WithDetail("from", s.Status.String()).
		WithDetail("to", to.String())
}

func appendUnique(ids []uuid.UUID, more ...uuid.UUID) []uuid.UUID {
	for _, id := range more {
		found := false
		for _, existing := range ids {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, id)
		}
	}
	return ids
}
