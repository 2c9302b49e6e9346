package persistence

import (
	"context"

	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormAuditRepository implements the append-only audit Repository using GORM
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Append writes entries in one statement
func (r *GormAuditRepository) Append(ctx context.Context, entries ...*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]*models.AuditEntryModel, len(entries))
	for i, e := range entries {
		rows[i] = models.AuditEntryModelFromDomain(e)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindAll lists entries, newest first by default
func (r *GormAuditRepository) FindAll(ctx context.Context, filter audit.Filter) ([]audit.Entry, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditEntryModel{})
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("occurred_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.AuditEntryModel
	if err := auditSort.page(query, filter.Filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	entries := make([]audit.Entry, len(rows))
	for i := range rows {
		entries[i] = *rows[i].ToDomain()
	}
	return entries, total, nil
}

// Ensure GormAuditRepository implements Repository
var _ audit.Repository = (*GormAuditRepository)(nil)
