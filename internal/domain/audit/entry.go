package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// Action names what was done
type Action string

const (
	ActionAccountOpened           Action = "ACCOUNT_OPENED"
	ActionAccountFrozen           Action = "ACCOUNT_FROZEN"
	ActionAccountUnfrozen         Action = "ACCOUNT_UNFROZEN"
	ActionAccountSuspended        Action = "ACCOUNT_SUSPENDED"
	ActionAccountReinstated       Action = "ACCOUNT_REINSTATED"
	ActionAccountClosed           Action = "ACCOUNT_CLOSED"
	ActionTransactionPosted       Action = "TRANSACTION_POSTED"
	ActionTransactionReversed     Action = "TRANSACTION_REVERSED"
	ActionAdjustmentPosted        Action = "ADJUSTMENT_POSTED"
	ActionOrderPlaced             Action = "ORDER_PLACED"
	ActionOrderCancelled          Action = "ORDER_CANCELLED"
	ActionOrderRejected           Action = "ORDER_REJECTED"
	ActionOrderExpired            Action = "ORDER_EXPIRED"
	ActionTradeRecorded           Action = "TRADE_RECORDED"
	ActionSettlementCompleted     Action = "SETTLEMENT_COMPLETED"
	ActionSettlementFailed        Action = "SETTLEMENT_FAILED"
	ActionSettlementRolledBack    Action = "SETTLEMENT_ROLLED_BACK"
	ActionReconciliationMismatch  Action = "RECONCILIATION_MISMATCH"
	ActionReconciliationCompleted Action = "RECONCILIATION_COMPLETED"
	ActionAdminOverride           Action = "ADMIN_OVERRIDE"
)

// String returns the string representation of Action
func (a Action) String() string {
	return string(a)
}

// ActorType classifies who performed an action
type ActorType string

const (
	ActorTypeUser   ActorType = "USER"
	ActorTypeAdmin  ActorType = "ADMIN"
	ActorTypeSystem ActorType = "SYSTEM"
)

// Actor identifies who performed an action
type Actor struct {
	ID   string    `json:"id"`
	Type ActorType `json:"type"`
}

// SystemActor returns the actor used by scheduled jobs and internal workflows
func SystemActor(component string) Actor {
	return Actor{ID: "system:" + component, Type: ActorTypeSystem}
}

// UserActor returns an actor for an end user
func UserActor(id uuid.UUID) Actor {
	return Actor{ID: id.String(), Type: ActorTypeUser}
}

// AdminActor returns an actor for an operator
func AdminActor(id string) Actor {
	return Actor{ID: id, Type: ActorTypeAdmin}
}

// Entry is an append-only record of a state-changing action.
// Before and After hold JSON snapshots of the affected entity.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	Action     Action          `json:"action"`
	ActorID    string          `json:"actor_id"`
	ActorType  ActorType       `json:"actor_type"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEntry builds an audit entry; before and after are marshalled to JSON
func NewEntry(action Action, actor Actor, entityType string, entityID uuid.UUID, before, after any, reason string) (*Entry, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return nil, shared.NewDomainError("INVALID_ACTOR", "Audit entries need an actor")
	}
	if entityType == "" || entityID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ENTITY", "Audit entries need an entity reference")
	}

	e := &Entry{
		ID:         uuid.New(),
		Action:     action,
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     strings.TrimSpace(reason),
		OccurredAt: time.Now().UTC(),
	}
	var err error
	if e.Before, err = snapshot(before); err != nil {
		return nil, err
	}
	if e.After, err = snapshot(after); err != nil {
		return nil, err
	}
	return e, nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
