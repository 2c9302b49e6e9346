package persistence

import (
	"context"
	"errors"

	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormIdempotencyKeyRepository implements IdempotencyRepository using GORM
type GormIdempotencyKeyRepository struct {
	db *gorm.DB
}

// NewGormIdempotencyKeyRepository creates a new GormIdempotencyKeyRepository
func NewGormIdempotencyKeyRepository(db *gorm.DB) *GormIdempotencyKeyRepository {
	return &GormIdempotencyKeyRepository{db: db}
}

// Find returns the record for key, or nil when the key is unknown
func (r *GormIdempotencyKeyRepository) Find(ctx context.Context, key string) (*ledger.IdempotencyRecord, error) {
	var model models.IdempotencyKeyModel
	err := r.db.WithContext(ctx).Where("key = ?", key).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// Reserve inserts the record with ON CONFLICT DO NOTHING. Zero affected rows
// means another writer holds the key.
func (r *GormIdempotencyKeyRepository) Reserve(ctx context.Context, record *ledger.IdempotencyRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.IdempotencyKeyModelFromDomain(record))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Ensure GormIdempotencyKeyRepository implements IdempotencyRepository
var _ ledger.IdempotencyRepository = (*GormIdempotencyKeyRepository)(nil)
