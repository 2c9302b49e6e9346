package persistence

import (
	"context"
	"fmt"

	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// EventSerializer turns a domain event into the outbox payload
type EventSerializer interface {
	Serialize(event shared.DomainEvent) ([]byte, error)
}

// GormOutboxWriter appends events to the outbox table inside the caller's transaction
type GormOutboxWriter struct {
	db         *gorm.DB
	serializer EventSerializer
}

// NewGormOutboxWriter creates a writer bound to db, which should be a transaction handle
func NewGormOutboxWriter(db *gorm.DB, serializer EventSerializer) *GormOutboxWriter {
	return &GormOutboxWriter{db: db, serializer: serializer}
}

// Append serializes and stores events as PENDING outbox entries
func (w *GormOutboxWriter) Append(ctx context.Context, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	if w.serializer == nil {
		return fmt.Errorf("outbox writer: no event serializer configured")
	}

	rows := make([]*models.OutboxEntryModel, 0, len(events))
	for _, event := range events {
		payload, err := w.serializer.Serialize(event)
		if err != nil {
			return fmt.Errorf("failed to serialize event %s: %w", event.EventType(), err)
		}
		rows = append(rows, models.OutboxEntryModelFromDomain(shared.NewOutboxEntry(event, payload)))
	}
	if err := w.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save outbox entries: %w", err)
	}
	return nil
}

// Ensure GormOutboxWriter implements OutboxWriter
var _ shared.OutboxWriter = (*GormOutboxWriter)(nil)
