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
	"gorm.io/gorm/clause"
)

// GormLedgerTransactionRepository implements TransactionRepository using GORM.
// Entries are only ever inserted together with their transaction.
type GormLedgerTransactionRepository struct {
	db *gorm.DB
}

// NewGormLedgerTransactionRepository creates a new GormLedgerTransactionRepository
func NewGormLedgerTransactionRepository(db *gorm.DB) *GormLedgerTransactionRepository {
	return &GormLedgerTransactionRepository{db: db}
}

// Create writes the transaction row and all of its entries
func (r *GormLedgerTransactionRepository) Create(ctx context.Context, txn *ledger.LedgerTransaction) error {
	model := models.LedgerTransactionModelFromDomain(txn)
	db := r.db.WithContext(ctx)
	err := db.Omit(clause.Associations).Create(model).Error
	if err == nil && len(model.Entries) > 0 {
		// A plain insert, so a taken (account, sequence) slot fails the unit of work
		err = db.Create(&model.Entries).Error
	}
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrConcurrencyConflict.WithDetail("transaction_id", txn.ID.String())
		}
		return err
	}
	return nil
}

// FindByID loads a transaction with its entries
func (r *GormLedgerTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.LedgerTransaction, error) {
	var model models.LedgerTransactionModel
	if err := r.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("account_id ASC, sequence ASC")
		}).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrTransactionNotFound.WithDetail("transaction_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByReference lists transactions caused by an entity, oldest first
func (r *GormLedgerTransactionRepository) FindByReference(ctx context.Context, ref ledger.Reference) ([]ledger.LedgerTransaction, error) {
	var rows []models.LedgerTransactionModel
	if err := r.db.WithContext(ctx).
		Preload("Entries").
		Where("reference_type = ? AND reference_id = ?", ref.Type, ref.ID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	txns := make([]ledger.LedgerTransaction, len(rows))
	for i := range rows {
		txns[i] = *rows[i].ToDomain()
	}
	return txns, nil
}

// FindAll lists transactions without entries
func (r *GormLedgerTransactionRepository) FindAll(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.LedgerTransaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerTransactionModel{})
	if filter.AccountID != nil {
		query = query.Where("id IN (?)",
			r.db.Model(&models.LedgerEntryModel{}).Select("transaction_id").Where("account_id = ?", *filter.AccountID))
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Reference != nil {
		query = query.Where("reference_type = ? AND reference_id = ?", filter.Reference.Type, filter.Reference.ID)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.LedgerTransactionModel
	if err := transactionSort.page(query, filter.Filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	txns := make([]ledger.LedgerTransaction, len(rows))
	for i := range rows {
		txns[i] = *rows[i].ToDomain()
	}
	return txns, total, nil
}

// MarkReversed flips a committed transaction to REVERSED. Only the status
// columns change; entries stay untouched.
func (r *GormLedgerTransactionRepository) MarkReversed(ctx context.Context, txn *ledger.LedgerTransaction) error {
	txn.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.LedgerTransactionModel{}).
		Where("id = ? AND status = ?", txn.ID, ledger.TransactionStatusCommitted).
		Updates(map[string]any{
			"status":         ledger.TransactionStatusReversed,
			"reversed_by_id": txn.ReversedByID,
			"version":        txn.Version,
			"updated_at":     txn.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrTransactionState.WithDetail("transaction_id", txn.ID.String())
	}
	return nil
}

// Ensure GormLedgerTransactionRepository implements TransactionRepository
var _ ledger.TransactionRepository = (*GormLedgerTransactionRepository)(nil)
