package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormSettlementRepository implements SettlementRepository using GORM
type GormSettlementRepository struct {
	db *gorm.DB
}

// NewGormSettlementRepository creates a new GormSettlementRepository
func NewGormSettlementRepository(db *gorm.DB) *GormSettlementRepository {
	return &GormSettlementRepository{db: db}
}

// Create inserts a new settlement. A second settlement for the same trade is a conflict.
func (r *GormSettlementRepository) Create(ctx context.Context, settlement *trading.Settlement) error {
	if err := r.db.WithContext(ctx).Create(models.SettlementModelFromDomain(settlement)).Error; err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrConcurrencyConflict.WithDetail("trade_id", settlement.TradeID.String())
		}
		return err
	}
	return nil
}

// SaveWithLock updates a settlement with an optimistic version check
func (r *GormSettlementRepository) SaveWithLock(ctx context.Context, settlement *trading.Settlement) error {
	settlement.UpdatedAt = time.Now().UTC()
	model := models.SettlementModelFromDomain(settlement)
	result := r.db.WithContext(ctx).
		Model(&models.SettlementModel{}).
		Where("id = ? AND version < ?", settlement.ID, settlement.Version).
		Select("status", "attempts", "last_error", "transaction_ids", "completed_at", "version", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict.WithDetail("settlement_id", settlement.ID.String())
	}
	return nil
}

// FindByID finds a settlement by ID
func (r *GormSettlementRepository) FindByID(ctx context.Context, id uuid.UUID) (*trading.Settlement, error) {
	var model models.SettlementModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trading.ErrSettlementNotFound.WithDetail("settlement_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByTradeID finds the settlement of a trade
func (r *GormSettlementRepository) FindByTradeID(ctx context.Context, tradeID uuid.UUID) (*trading.Settlement, error) {
	var model models.SettlementModel
	if err := r.db.WithContext(ctx).First(&model, "trade_id = ?", tradeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trading.ErrSettlementNotFound.WithDetail("trade_id", tradeID.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindSettleable lists PENDING and FAILED settlements below the attempt limit, oldest first
func (r *GormSettlementRepository) FindSettleable(ctx context.Context, maxAttempts, limit int) ([]trading.Settlement, error) {
	var rows []models.SettlementModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND attempts < ?",
			[]trading.SettlementStatus{trading.SettlementStatusPending, trading.SettlementStatusFailed}, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	settlements := make([]trading.Settlement, len(rows))
	for i := range rows {
		settlements[i] = *rows[i].ToDomain()
	}
	return settlements, nil
}

// Ensure GormSettlementRepository implements SettlementRepository
var _ trading.SettlementRepository = (*GormSettlementRepository)(nil)
