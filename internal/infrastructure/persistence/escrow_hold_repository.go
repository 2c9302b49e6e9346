package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormEscrowHoldRepository implements HoldRepository using GORM
type GormEscrowHoldRepository struct {
	db *gorm.DB
}

// NewGormEscrowHoldRepository creates a new GormEscrowHoldRepository
func NewGormEscrowHoldRepository(db *gorm.DB) *GormEscrowHoldRepository {
	return &GormEscrowHoldRepository{db: db}
}

// Create inserts a new hold
func (r *GormEscrowHoldRepository) Create(ctx context.Context, hold *ledger.EscrowHold) error {
	return r.db.WithContext(ctx).Create(models.EscrowHoldModelFromDomain(hold)).Error
}

// SaveWithLock updates remaining and status with an optimistic version check
func (r *GormEscrowHoldRepository) SaveWithLock(ctx context.Context, hold *ledger.EscrowHold) error {
	hold.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.EscrowHoldModel{}).
		Where("id = ? AND version < ?", hold.ID, hold.Version).
		Updates(map[string]any{
			"remaining":  hold.Remaining,
			"status":     hold.Status,
			"closed_at":  hold.ClosedAt,
			"version":    hold.Version,
			"updated_at": hold.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict.WithDetail("hold_id", hold.ID.String())
	}
	return nil
}

// FindByID finds a hold by ID
func (r *GormEscrowHoldRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.EscrowHold, error) {
	var model models.EscrowHoldModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrHoldNotFound.WithDetail("hold_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActiveByReference finds the active hold locked for an entity
func (r *GormEscrowHoldRepository) FindActiveByReference(ctx context.Context, ref ledger.Reference) (*ledger.EscrowHold, error) {
	var model models.EscrowHoldModel
	if err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ? AND status = ?", ref.Type, ref.ID, ledger.HoldStatusActive).
		Order("created_at ASC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrHoldNotFound.WithDetail("reference", ref.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SumActiveByWallet sums Remaining over active holds of a wallet
func (r *GormEscrowHoldRepository) SumActiveByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var remaining []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.EscrowHoldModel{}).
		Where("wallet_account_id = ? AND status = ?", walletID, ledger.HoldStatusActive).
		Pluck("remaining", &remaining).Error; err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, remaining...), nil
}

// CountActiveByAccount counts active holds where the account is wallet or escrow
func (r *GormEscrowHoldRepository) CountActiveByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EscrowHoldModel{}).
		Where("(wallet_account_id = ? OR escrow_account_id = ?) AND status = ?", accountID, accountID, ledger.HoldStatusActive).
		Count(&count).Error
	return count, err
}

// Ensure GormEscrowHoldRepository implements HoldRepository
var _ ledger.HoldRepository = (*GormEscrowHoldRepository)(nil)
