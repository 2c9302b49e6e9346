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

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create inserts a new order
func (r *GormOrderRepository) Create(ctx context.Context, order *trading.Order) error {
	return r.db.WithContext(ctx).Create(models.OrderModelFromDomain(order)).Error
}

// SaveWithLock updates an order with an optimistic version check
func (r *GormOrderRepository) SaveWithLock(ctx context.Context, order *trading.Order) error {
	order.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ? AND version < ?", order.ID, order.Version).
		Updates(map[string]any{
			"filled_quantity":      order.FilledQuantity,
			"settled_quantity":     order.SettledQuantity,
			"rolled_back_quantity": order.RolledBackQuantity,
			"hold_id":              order.HoldID,
			"status":               order.Status,
			"status_reason":        order.StatusReason,
			"version":              order.Version,
			"updated_at":           order.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict.WithDetail("order_id", order.ID.String())
	}
	return nil
}

// FindByID finds an order by ID
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*trading.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trading.ErrOrderNotFound.WithDetail("order_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists orders with filtering and returns the total count
func (r *GormOrderRepository) FindAll(ctx context.Context, filter trading.OrderFilter) ([]trading.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.OrderModel{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.MarketID != "" {
		query = query.Where("market_id = ?", filter.MarketID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.OrderModel
	if err := orderSort.page(query, filter.Filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	orders := make([]trading.Order, len(rows))
	for i := range rows {
		orders[i] = *rows[i].ToDomain()
	}
	return orders, total, nil
}

// FindExpiring lists unfilled GTD orders whose expiry is at or before now
func (r *GormOrderRepository) FindExpiring(ctx context.Context, now time.Time, limit int) ([]trading.Order, error) {
	var rows []models.OrderModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND time_in_force = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			[]trading.OrderStatus{trading.OrderStatusPending, trading.OrderStatusOpen},
			trading.TimeInForceGTD, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]trading.Order, len(rows))
	for i := range rows {
		orders[i] = *rows[i].ToDomain()
	}
	return orders, nil
}

// Ensure GormOrderRepository implements OrderRepository
var _ trading.OrderRepository = (*GormOrderRepository)(nil)
