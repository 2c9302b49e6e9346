package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/audit"
)

// AuditEntryModel is the persistence model for an append-only audit entry.
type AuditEntryModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primary_key"`
	Action     audit.Action    `gorm:"type:varchar(40);not null;index"`
	ActorID    string          `gorm:"type:varchar(100);not null;index"`
	ActorType  audit.ActorType `gorm:"type:varchar(10);not null"`
	EntityType string          `gorm:"type:varchar(40);not null;index:idx_audit_entity,priority:1"`
	EntityID   uuid.UUID       `gorm:"type:uuid;not null;index:idx_audit_entity,priority:2"`
	Before     []byte          `gorm:"type:jsonb"`
	After      []byte          `gorm:"type:jsonb"`
	Reason     string          `gorm:"type:text"`
	OccurredAt time.Time       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AuditEntryModel) TableName() string {
	return "audit_entries"
}

// ToDomain converts the persistence model to a domain audit Entry.
func (m *AuditEntryModel) ToDomain() *audit.Entry {
	return &audit.Entry{
		ID:         m.ID,
		Action:     m.Action,
		ActorID:    m.ActorID,
		ActorType:  m.ActorType,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Before:     m.Before,
		After:      m.After,
		Reason:     m.Reason,
		OccurredAt: m.OccurredAt,
	}
}

// AuditEntryModelFromDomain creates a new persistence model from a domain audit Entry.
func AuditEntryModelFromDomain(e *audit.Entry) *AuditEntryModel {
	return &AuditEntryModel{
		ID:         e.ID,
		Action:     e.Action,
		ActorID:    e.ActorID,
		ActorType:  e.ActorType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     e.Before,
		After:      e.After,
		Reason:     e.Reason,
		OccurredAt: e.OccurredAt,
	}
}
