package reconciliation

import (
	"context"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// RunFilter narrows run listings
type RunFilter struct {
	shared.Filter
	Type   RunType
	Status RunStatus
}

// RunRepository defines the interface for reconciliation run persistence
type RunRepository interface {
	// Create inserts a new run
	Create(ctx context.Context, run *Run) error

	// Save updates the run status and upserts its discrepancies
	Save(ctx context.Context, run *Run) error

	// FindByID loads a run with its discrepancies
	FindByID(ctx context.Context, id uuid.UUID) (*Run, error)

	// FindLatest finds the most recent run for a (type, window) key, or ErrRunNotFound
	FindLatest(ctx context.Context, t RunType, w Window) (*Run, error)

	// FindAll lists runs without discrepancies
	FindAll(ctx context.Context, filter RunFilter) ([]Run, int64, error)
}
