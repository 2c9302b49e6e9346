package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormAccountRepository implements AccountRepository using GORM
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GormAccountRepository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByID finds an account by ID
func (r *GormAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrAccountNotFound.WithDetail("account_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDs loads several accounts at once
func (r *GormAccountRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*ledger.Account, error) {
	result := make(map[uuid.UUID]*ledger.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var rows []models.AccountModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		result[rows[i].ID] = rows[i].ToDomain()
	}
	return result, nil
}

// FindByCode finds an account by its unique code
func (r *GormAccountRepository) FindByCode(ctx context.Context, code string) (*ledger.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).First(&model, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrAccountNotFound.WithDetail("code", code)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists accounts with filtering and returns the total count
func (r *GormAccountRepository) FindAll(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AccountModel{})
	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.AccountModel
	if err := accountSort.page(query, filter.Filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	accounts := make([]ledger.Account, len(rows))
	for i := range rows {
		accounts[i] = *rows[i].ToDomain()
	}
	return accounts, total, nil
}

// ListAfter pages accounts in ID order starting after the given ID
func (r *GormAccountRepository) ListAfter(ctx context.Context, after uuid.UUID, limit int) ([]ledger.Account, error) {
	var rows []models.AccountModel
	if err := r.db.WithContext(ctx).
		Where("id > ?", after).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	accounts := make([]ledger.Account, len(rows))
	for i := range rows {
		accounts[i] = *rows[i].ToDomain()
	}
	return accounts, nil
}

// Create inserts a new account
func (r *GormAccountRepository) Create(ctx context.Context, account *ledger.Account) error {
	if err := r.db.WithContext(ctx).Create(models.AccountModelFromDomain(account)).Error; err != nil {
		if IsUniqueViolation(err) {
			return ledger.ErrAccountExists.WithDetail("code", account.Code)
		}
		return err
	}
	return nil
}

// SaveWithLock persists status changes. The domain bumps the version on every
// mutation, so a stored version that is not older than ours means a concurrent write.
func (r *GormAccountRepository) SaveWithLock(ctx context.Context, account *ledger.Account) error {
	account.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.AccountModel{}).
		Where("id = ? AND version < ?", account.ID, account.Version).
		Updates(map[string]any{
			"status":        account.Status,
			"status_reason": account.StatusReason,
			"version":       account.Version,
			"updated_at":    account.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict.WithDetail("account_id", account.ID.String())
	}
	return nil
}

// Ensure GormAccountRepository implements AccountRepository
var _ ledger.AccountRepository = (*GormAccountRepository)(nil)
