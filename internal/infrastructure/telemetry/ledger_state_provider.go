package telemetry

import (
	"context"

	"gorm.io/gorm"
)

// GormLedgerStateProvider implements LedgerStateProvider using GORM.
// It counts rows in the outbox and escrow hold tables directly.
type GormLedgerStateProvider struct {
	db *gorm.DB
}

// NewGormLedgerStateProvider creates a new GormLedgerStateProvider.
func NewGormLedgerStateProvider(db *gorm.DB) *GormLedgerStateProvider {
	return &GormLedgerStateProvider{db: db}
}

// PendingOutboxCount returns outbox entries that are pending or awaiting retry.
func (p *GormLedgerStateProvider) PendingOutboxCount(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("outbox_events").
		Where("status IN ?", []string{"PENDING", "FAILED"}).
		Count(&count).Error
	return count, err
}

// ActiveHoldCount returns escrow holds still locking funds.
func (p *GormLedgerStateProvider) ActiveHoldCount(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("escrow_holds").
		Where("status = ?", "ACTIVE").
		Count(&count).Error
	return count, err
}

var _ LedgerStateProvider = (*GormLedgerStateProvider)(nil)
