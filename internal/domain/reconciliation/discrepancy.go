package reconciliation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// Resolution records what happened to a discrepancy
type Resolution string

const (
	ResolutionOpen             Resolution = "OPEN"
	ResolutionAutoCorrected    Resolution = "AUTO_CORRECTED"
	ResolutionFlagged          Resolution = "FLAGGED"
	ResolutionCorrectionFailed Resolution = "CORRECTION_FAILED"
)

// Entity types a discrepancy can point at
const (
	EntityAccount = "ACCOUNT"
	EntityTrade   = "TRADE"
)

// Discrepancy is a difference between the ledger (expected) and a source (actual)
type Discrepancy struct {
	ID             uuid.UUID            `json:"id"`
	RunID          uuid.UUID            `json:"run_id"`
	Source         string               `json:"source"`
	EntityType     string               `json:"entity_type"`
	EntityID       uuid.UUID            `json:"entity_id"`
	Currency       valueobject.Currency `json:"currency"`
	Expected       decimal.Decimal      `json:"expected"`
	Actual         decimal.Decimal      `json:"actual"`
	Difference     decimal.Decimal      `json:"difference"`
	Resolution     Resolution           `json:"resolution"`
	CorrectionTxID *uuid.UUID           `json:"correction_tx_id,omitempty"`
	Error          string               `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// NewDiscrepancy records actual - expected for an entity
func NewDiscrepancy(source, entityType string, entityID uuid.UUID, currency valueobject.Currency, expected, actual decimal.Decimal) *Discrepancy {
	return &Discrepancy{
		ID:         uuid.New(),
		Source:     source,
		EntityType: entityType,
		EntityID:   entityID,
		Currency:   currency,
		Expected:   expected,
		Actual:     actual,
		Difference: actual.Sub(expected),
		Resolution: ResolutionOpen,
		CreatedAt:  time.Now().UTC(),
	}
}

// Magnitude is the absolute difference
func (d *Discrepancy) Magnitude() decimal.Decimal {
	return d.Difference.Abs()
}

// WithinThreshold reports whether the discrepancy is small enough to auto-correct
func (d *Discrepancy) WithinThreshold(threshold decimal.Decimal) bool {
	return d.Magnitude().LessThanOrEqual(threshold)
}

// MarkAutoCorrected links the adjustment that closed the gap
func (d *Discrepancy) MarkAutoCorrected(txID uuid.UUID) {
	d.Resolution = ResolutionAutoCorrected
	d.CorrectionTxID = &txID
	d.Error = ""
}

// MarkFlagged reports the discrepancy for manual review
func (d *Discrepancy) MarkFlagged() {
	d.Resolution = ResolutionFlagged
}

// MarkCorrectionFailed records why an auto-correction did not post
func (d *Discrepancy) MarkCorrectionFailed(err error) {
	d.Resolution = ResolutionCorrectionFailed
	if err != nil {
		d.Error = err.Error()
	}
}
