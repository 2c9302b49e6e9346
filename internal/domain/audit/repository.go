package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// Filter narrows audit listings
type Filter struct {
	shared.Filter
	Action     Action
	ActorID    string
	EntityType string
	EntityID   *uuid.UUID
	From       *time.Time
	To         *time.Time
}

// Repository is append-only: entries are never updated or deleted
type Repository interface {
	// Append writes entries
	Append(ctx context.Context, entries ...*Entry) error

	// FindAll lists entries newest first and returns the total count
	FindAll(ctx context.Context, filter Filter) ([]Entry, int64, error)
}
