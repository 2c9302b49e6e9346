package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormReconciliationRunRepository implements RunRepository using GORM
type GormReconciliationRunRepository struct {
	db *gorm.DB
}

// NewGormReconciliationRunRepository creates a new GormReconciliationRunRepository
func NewGormReconciliationRunRepository(db *gorm.DB) *GormReconciliationRunRepository {
	return &GormReconciliationRunRepository{db: db}
}

// Create inserts a new run and any discrepancies already attached
func (r *GormReconciliationRunRepository) Create(ctx context.Context, run *reconciliation.Run) error {
	return r.db.WithContext(ctx).Create(models.ReconciliationRunModelFromDomain(run)).Error
}

// Save updates the run columns and upserts its discrepancies
func (r *GormReconciliationRunRepository) Save(ctx context.Context, run *reconciliation.Run) error {
	run.UpdatedAt = time.Now().UTC()
	model := models.ReconciliationRunModelFromDomain(run)

	db := r.db.WithContext(ctx)
	if err := db.Model(&models.ReconciliationRunModel{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":        model.Status,
			"items_checked": model.ItemsChecked,
			"finished_at":   model.FinishedAt,
			"error":         model.Error,
			"report_key":    model.ReportKey,
			"version":       model.Version,
			"updated_at":    model.UpdatedAt,
		}).Error; err != nil {
		return err
	}

	if len(model.Discrepancies) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"resolution", "correction_tx_id", "error"}),
	}).Create(&model.Discrepancies).Error
}

// FindByID loads a run with its discrepancies
func (r *GormReconciliationRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*reconciliation.Run, error) {
	var model models.ReconciliationRunModel
	if err := r.db.WithContext(ctx).
		Preload("Discrepancies", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reconciliation.ErrRunNotFound.WithDetail("run_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindLatest finds the most recent run for a (type, window) key
func (r *GormReconciliationRunRepository) FindLatest(ctx context.Context, t reconciliation.RunType, w reconciliation.Window) (*reconciliation.Run, error) {
	var model models.ReconciliationRunModel
	if err := r.db.WithContext(ctx).
		Preload("Discrepancies", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("type = ? AND window_start = ? AND window_end = ?", t, w.Start, w.End).
		Order("started_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reconciliation.ErrRunNotFound.WithDetail("key", string(t)+":"+w.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists runs without discrepancies
func (r *GormReconciliationRunRepository) FindAll(ctx context.Context, filter reconciliation.RunFilter) ([]reconciliation.Run, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ReconciliationRunModel{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ReconciliationRunModel
	if err := runSort.page(query, filter.Filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	runs := make([]reconciliation.Run, len(rows))
	for i := range rows {
		runs[i] = *rows[i].ToDomain()
	}
	return runs, total, nil
}

// Ensure GormReconciliationRunRepository implements RunRepository
var _ reconciliation.RunRepository = (*GormReconciliationRunRepository)(nil)
