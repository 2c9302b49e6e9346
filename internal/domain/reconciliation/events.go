package reconciliation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// Event and aggregate type names
const (
	AggregateTypeRun            = "ReconciliationRun"
	EventTypeRunCompleted       = "ReconciliationCompleted"
	EventTypeDiscrepancyFlagged = "DiscrepancyFlagged"
)

// RunCompletedEvent is raised when a run reaches a final status
type RunCompletedEvent struct {
	shared.BaseDomainEvent
	RunID         uuid.UUID          `json:"run_id"`
	Type          RunType            `json:"type"`
	Window        Window             `json:"window"`
	Status        RunStatus          `json:"status"`
	ItemsChecked  int                `json:"items_checked"`
	Discrepancies map[Resolution]int `json:"discrepancies"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// EventType returns the event type name
func (e *RunCompletedEvent) EventType() string {
	return EventTypeRunCompleted
}

// NewRunCompletedEvent creates a new RunCompletedEvent
func NewRunCompletedEvent(r *Run) *RunCompletedEvent {
	finished := time.Now().UTC()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	return &RunCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRunCompleted, AggregateTypeRun, r.ID),
		RunID:           r.ID,
		Type:            r.Type,
		Window:          r.Window,
		Status:          r.Status,
		ItemsChecked:    r.ItemsChecked,
		Discrepancies:   r.CountByResolution(),
		FinishedAt:      finished,
	}
}

// DiscrepancyFlaggedEvent is raised for discrepancies that need manual review
type DiscrepancyFlaggedEvent struct {
	shared.BaseDomainEvent
	RunID      uuid.UUID       `json:"run_id"`
	Source     string          `json:"source"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Difference decimal.Decimal `json:"difference"`
}

// EventType returns the event type name
func (e *DiscrepancyFlaggedEvent) EventType() string {
	return EventTypeDiscrepancyFlagged
}

// NewDiscrepancyFlaggedEvent creates a new DiscrepancyFlaggedEvent
func NewDiscrepancyFlaggedEvent(r *Run, d *Discrepancy) *DiscrepancyFlaggedEvent {
	return &DiscrepancyFlaggedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDiscrepancyFlagged, AggregateTypeRun, r.ID),
		RunID:           r.ID,
		Source:          d.Source,
		EntityType:      d.EntityType,
		EntityID:        d.EntityID,
		Difference:      d.Difference,
	}
}
