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

// GormTradeRepository implements TradeRepository using GORM
type GormTradeRepository struct {
	db *gorm.DB
}

// NewGormTradeRepository creates a new GormTradeRepository
func NewGormTradeRepository(db *gorm.DB) *GormTradeRepository {
	return &GormTradeRepository{db: db}
}

// Create inserts a new trade
func (r *GormTradeRepository) Create(ctx context.Context, trade *trading.Trade) error {
	return r.db.WithContext(ctx).Create(models.TradeModelFromDomain(trade)).Error
}

// SaveWithLock updates the trade status with an optimistic version check
func (r *GormTradeRepository) SaveWithLock(ctx context.Context, trade *trading.Trade) error {
	trade.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.TradeModel{}).
		Where("id = ? AND version < ?", trade.ID, trade.Version).
		Updates(map[string]any{
			"status":     trade.Status,
			"settled_at": trade.SettledAt,
			"version":    trade.Version,
			"updated_at": trade.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict.WithDetail("trade_id", trade.ID.String())
	}
	return nil
}

// FindByID finds a trade by ID
func (r *GormTradeRepository) FindByID(ctx context.Context, id uuid.UUID) (*trading.Trade, error) {
	var model models.TradeModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trading.ErrTradeNotFound.WithDetail("trade_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListExecutedBetween pages trades executed in [from, to) in ID order
func (r *GormTradeRepository) ListExecutedBetween(ctx context.Context, from, to time.Time, after uuid.UUID, limit int) ([]trading.Trade, error) {
	var rows []models.TradeModel
	if err := r.db.WithContext(ctx).
		Where("executed_at >= ? AND executed_at < ? AND id > ?", from, to, after).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	trades := make([]trading.Trade, len(rows))
	for i := range rows {
		trades[i] = *rows[i].ToDomain()
	}
	return trades, nil
}

// Ensure GormTradeRepository implements TradeRepository
var _ trading.TradeRepository = (*GormTradeRepository)(nil)
