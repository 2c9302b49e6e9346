package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormLedgerEntryRepository reads per-account entry chains using GORM
type GormLedgerEntryRepository struct {
	db *gorm.DB
}

// NewGormLedgerEntryRepository creates a new GormLedgerEntryRepository
func NewGormLedgerEntryRepository(db *gorm.DB) *GormLedgerEntryRepository {
	return &GormLedgerEntryRepository{db: db}
}

// Head returns the latest entry position of an account; an account without
// entries is at sequence 0 with a zero balance
func (r *GormLedgerEntryRepository) Head(ctx context.Context, accountID uuid.UUID) (ledger.AccountHead, error) {
	return r.head(r.db.WithContext(ctx).Where("account_id = ?", accountID), accountID)
}

// Heads returns the latest positions of several accounts
func (r *GormLedgerEntryRepository) Heads(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]ledger.AccountHead, error) {
	heads := make(map[uuid.UUID]ledger.AccountHead, len(accountIDs))
	for _, id := range accountIDs {
		if _, ok := heads[id]; ok {
			continue
		}
		head, err := r.Head(ctx, id)
		if err != nil {
			return nil, err
		}
		heads[id] = head
	}
	return heads, nil
}

// HeadAsOf returns the latest position created at or before cutoff
func (r *GormLedgerEntryRepository) HeadAsOf(ctx context.Context, accountID uuid.UUID, cutoff time.Time) (ledger.AccountHead, error) {
	return r.head(r.db.WithContext(ctx).Where("account_id = ? AND created_at <= ?", accountID, cutoff), accountID)
}

func (r *GormLedgerEntryRepository) head(query *gorm.DB, accountID uuid.UUID) (ledger.AccountHead, error) {
	var model models.LedgerEntryModel
	err := query.Order("sequence DESC").Limit(1).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.AccountHead{AccountID: accountID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return ledger.AccountHead{}, err
	}
	return ledger.AccountHead{AccountID: accountID, Sequence: model.Sequence, Balance: model.BalanceAfter}, nil
}

// ListAfter returns up to limit entries with sequence greater than afterSequence, ascending
func (r *GormLedgerEntryRepository) ListAfter(ctx context.Context, accountID uuid.UUID, afterSequence int64, limit int) ([]ledger.LedgerEntry, error) {
	var rows []models.LedgerEntryModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND sequence > ?", accountID, afterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]ledger.LedgerEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].ToDomain()
	}
	return entries, nil
}

// Ensure GormLedgerEntryRepository implements EntryRepository
var _ ledger.EntryRepository = (*GormLedgerEntryRepository)(nil)
