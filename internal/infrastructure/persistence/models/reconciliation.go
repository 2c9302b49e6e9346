package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// ReconciliationRunModel is the persistence model for the reconciliation Run aggregate root.
// Several rows may share a (type, window) key: errored runs are retried as new rows.
type ReconciliationRunModel struct {
	AggregateModel
	Type          reconciliation.RunType    `gorm:"type:varchar(20);not null;index:idx_recon_runs_key,priority:1"`
	WindowStart   time.Time                 `gorm:"not null;index:idx_recon_runs_key,priority:2"`
	WindowEnd     time.Time                 `gorm:"not null;index:idx_recon_runs_key,priority:3"`
	Sources       []string                  `gorm:"type:jsonb;serializer:json"`
	Status        reconciliation.RunStatus  `gorm:"type:varchar(30);not null;index"`
	Cutoff        time.Time                 `gorm:"not null"`
	ItemsChecked  int                       `gorm:"not null;default:0"`
	StartedAt     time.Time                 `gorm:"not null"`
	FinishedAt    *time.Time
	Error         string                    `gorm:"type:text"`
	ReportKey     string                    `gorm:"type:varchar(500)"`
	Discrepancies []ReconciliationDiscModel `gorm:"foreignKey:RunID;references:ID"`
}

// TableName returns the table name for GORM
func (ReconciliationRunModel) TableName() string {
	return "reconciliation_runs"
}

// ToDomain converts the persistence model to a domain Run.
func (m *ReconciliationRunModel) ToDomain() *reconciliation.Run {
	r := &reconciliation.Run{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Type:              m.Type,
		Window:            reconciliation.Window{Start: m.WindowStart.UTC(), End: m.WindowEnd.UTC()},
		Sources:           m.Sources,
		Status:            m.Status,
		Cutoff:            m.Cutoff.UTC(),
		ItemsChecked:      m.ItemsChecked,
		StartedAt:         m.StartedAt,
		FinishedAt:        m.FinishedAt,
		Error:             m.Error,
		ReportKey:         m.ReportKey,
		Discrepancies:     make([]*reconciliation.Discrepancy, len(m.Discrepancies)),
	}
	for i := range m.Discrepancies {
		r.Discrepancies[i] = m.Discrepancies[i].ToDomain()
	}
	return r
}

// FromDomain populates the persistence model from a domain Run.
func (m *ReconciliationRunModel) FromDomain(r *reconciliation.Run) {
	m.FromDomainAggregateRoot(r.BaseAggregateRoot)
	m.Type = r.Type
	m.WindowStart = r.Window.Start
	m.WindowEnd = r.Window.End
	m.Sources = r.Sources
	m.Status = r.Status
	m.Cutoff = r.Cutoff
	m.ItemsChecked = r.ItemsChecked
	m.StartedAt = r.StartedAt
	m.FinishedAt = r.FinishedAt
	m.Error = r.Error
	m.ReportKey = r.ReportKey
	m.Discrepancies = make([]ReconciliationDiscModel, len(r.Discrepancies))
	for i, d := range r.Discrepancies {
		m.Discrepancies[i].FromDomain(d)
	}
}

// ReconciliationRunModelFromDomain creates a new persistence model from a domain Run.
func ReconciliationRunModelFromDomain(r *reconciliation.Run) *ReconciliationRunModel {
	m := &ReconciliationRunModel{}
	m.FromDomain(r)
	return m
}

// ReconciliationDiscModel is the persistence model for a discrepancy found by a run.
type ReconciliationDiscModel struct {
	ID             uuid.UUID                 `gorm:"type:uuid;primary_key"`
	RunID          uuid.UUID                 `gorm:"type:uuid;not null;index"`
	Source         string                    `gorm:"type:varchar(100);not null"`
	EntityType     string                    `gorm:"type:varchar(30);not null"`
	EntityID       uuid.UUID                 `gorm:"type:uuid;not null;index"`
	Currency       valueobject.Currency      `gorm:"type:varchar(10)"`
	Expected       decimal.Decimal           `gorm:"type:decimal(38,18);not null"`
	Actual         decimal.Decimal           `gorm:"type:decimal(38,18);not null"`
	Difference     decimal.Decimal           `gorm:"type:decimal(38,18);not null"`
	Resolution     reconciliation.Resolution `gorm:"type:varchar(30);not null"`
	CorrectionTxID *uuid.UUID                `gorm:"type:uuid"`
	Error          string                    `gorm:"type:text"`
	CreatedAt      time.Time                 `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ReconciliationDiscModel) TableName() string {
	return "reconciliation_discrepancies"
}

// ToDomain converts the persistence model to a domain Discrepancy.
func (m *ReconciliationDiscModel) ToDomain() *reconciliation.Discrepancy {
	return &reconciliation.Discrepancy{
		ID:             m.ID,
		RunID:          m.RunID,
		Source:         m.Source,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		Currency:       m.Currency,
		Expected:       m.Expected,
		Actual:         m.Actual,
		Difference:     m.Difference,
		Resolution:     m.Resolution,
		CorrectionTxID: m.CorrectionTxID,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain Discrepancy.
func (m *ReconciliationDiscModel) FromDomain(d *reconciliation.Discrepancy) {
	m.ID = d.ID
	m.RunID = d.RunID
	m.Source = d.Source
	m.EntityType = d.EntityType
	m.EntityID = d.EntityID
	m.Currency = d.Currency
	m.Expected = d.Expected
	m.Actual = d.Actual
	m.Difference = d.Difference
	m.Resolution = d.Resolution
	m.CorrectionTxID = d.CorrectionTxID
	m.Error = d.Error
	m.CreatedAt = d.CreatedAt
}
