package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// AccountModel is the persistence model for the Account aggregate root.
type AccountModel struct {
	AggregateModel
	Code         string               `gorm:"type:varchar(200);not null;uniqueIndex"`
	OwnerID      *uuid.UUID           `gorm:"type:uuid;index"`
	Type         ledger.AccountType   `gorm:"type:varchar(30);not null;index"`
	Status       ledger.AccountStatus `gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	Currency     valueobject.Currency `gorm:"type:varchar(10);not null"`
	StatusReason string               `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account.
func (m *AccountModel) ToDomain() *ledger.Account {
	return &ledger.Account{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Code:              m.Code,
		OwnerID:           m.OwnerID,
		Type:              m.Type,
		Status:            m.Status,
		Currency:          m.Currency,
		StatusReason:      m.StatusReason,
	}
}

// FromDomain populates the persistence model from a domain Account.
func (m *AccountModel) FromDomain(a *ledger.Account) {
	m.FromDomainAggregateRoot(a.BaseAggregateRoot)
	m.Code = a.Code
	m.OwnerID = a.OwnerID
	m.Type = a.Type
	m.Status = a.Status
	m.Currency = a.Currency
	m.StatusReason = a.StatusReason
}

// AccountModelFromDomain creates a new persistence model from a domain Account.
func AccountModelFromDomain(a *ledger.Account) *AccountModel {
	m := &AccountModel{}
	m.FromDomain(a)
	return m
}

// LedgerTransactionModel is the persistence model for the LedgerTransaction aggregate root.
type LedgerTransactionModel struct {
	AggregateModel
	Type           ledger.TransactionType   `gorm:"type:varchar(30);not null;index"`
	Description    string                   `gorm:"type:varchar(500)"`
	Currency       valueobject.Currency     `gorm:"type:varchar(10);not null"`
	Amount         decimal.Decimal          `gorm:"type:decimal(38,18);not null"`
	InitiatorID    string                   `gorm:"type:varchar(100);not null"`
	IdempotencyKey *string                  `gorm:"type:varchar(128);uniqueIndex"`
	ReferenceType  *string                  `gorm:"type:varchar(30);index:idx_ledger_tx_reference,priority:1"`
	ReferenceID    *uuid.UUID               `gorm:"type:uuid;index:idx_ledger_tx_reference,priority:2"`
	Status         ledger.TransactionStatus `gorm:"type:varchar(20);not null;index"`
	Metadata       map[string]string        `gorm:"type:jsonb;serializer:json"`
	ReversesID     *uuid.UUID               `gorm:"type:uuid;index"`
	ReversedByID   *uuid.UUID               `gorm:"type:uuid"`
	CommittedAt    *time.Time               `gorm:"index"`
	Entries        []LedgerEntryModel       `gorm:"foreignKey:TransactionID;references:ID"`
}

// TableName returns the table name for GORM
func (LedgerTransactionModel) TableName() string {
	return "ledger_transactions"
}

// ToDomain converts the persistence model to a domain LedgerTransaction.
func (m *LedgerTransactionModel) ToDomain() *ledger.LedgerTransaction {
	t := &ledger.LedgerTransaction{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Type:              m.Type,
		Description:       m.Description,
		Currency:          m.Currency,
		Amount:            m.Amount,
		InitiatorID:       m.InitiatorID,
		IdempotencyKey:    m.IdempotencyKey,
		Status:            m.Status,
		Metadata:          m.Metadata,
		ReversesID:        m.ReversesID,
		ReversedByID:      m.ReversedByID,
		CommittedAt:       m.CommittedAt,
		Entries:           make([]ledger.LedgerEntry, len(m.Entries)),
	}
	if m.ReferenceType != nil && m.ReferenceID != nil {
		t.Reference = &ledger.Reference{Type: *m.ReferenceType, ID: *m.ReferenceID}
	}
	for i := range m.Entries {
		t.Entries[i] = m.Entries[i].ToDomain()
	}
	return t
}

// FromDomain populates the persistence model from a domain LedgerTransaction.
func (m *LedgerTransactionModel) FromDomain(t *ledger.LedgerTransaction) {
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	m.Type = t.Type
	m.Description = t.Description
	m.Currency = t.Currency
	m.Amount = t.Amount
	m.InitiatorID = t.InitiatorID
	m.IdempotencyKey = t.IdempotencyKey
	m.ReferenceType, m.ReferenceID = nil, nil
	if t.Reference != nil {
		refType, refID := t.Reference.Type, t.Reference.ID
		m.ReferenceType = &refType
		m.ReferenceID = &refID
	}
	m.Status = t.Status
	m.Metadata = t.Metadata
	m.ReversesID = t.ReversesID
	m.ReversedByID = t.ReversedByID
	m.CommittedAt = t.CommittedAt
	m.Entries = make([]LedgerEntryModel, len(t.Entries))
	for i := range t.Entries {
		m.Entries[i].FromDomain(t.Entries[i])
	}
}

// LedgerTransactionModelFromDomain creates a new persistence model from a domain LedgerTransaction.
func LedgerTransactionModelFromDomain(t *ledger.LedgerTransaction) *LedgerTransactionModel {
	m := &LedgerTransactionModel{}
	m.FromDomain(t)
	return m
}

// LedgerEntryModel is the persistence model for an immutable ledger entry.
// (account_id, sequence) is unique: two writers can never claim the same position.
type LedgerEntryModel struct {
	ID            uuid.UUID            `gorm:"type:uuid;primary_key"`
	TransactionID uuid.UUID            `gorm:"type:uuid;not null;index"`
	AccountID     uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_entries_account_seq,priority:1"`
	Sequence      int64                `gorm:"not null;uniqueIndex:idx_ledger_entries_account_seq,priority:2"`
	EntryType     ledger.EntryType     `gorm:"type:varchar(10);not null"`
	Amount        decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	Currency      valueobject.Currency `gorm:"type:varchar(10);not null"`
	BalanceAfter  decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	Description   string               `gorm:"type:varchar(500)"`
	CreatedAt     time.Time            `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// ToDomain converts the persistence model to a domain LedgerEntry.
func (m *LedgerEntryModel) ToDomain() ledger.LedgerEntry {
	return ledger.LedgerEntry{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		AccountID:     m.AccountID,
		EntryType:     m.EntryType,
		Amount:        m.Amount,
		Currency:      m.Currency,
		BalanceAfter:  m.BalanceAfter,
		Sequence:      m.Sequence,
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain LedgerEntry.
func (m *LedgerEntryModel) FromDomain(e ledger.LedgerEntry) {
	m.ID = e.ID
	m.TransactionID = e.TransactionID
	m.AccountID = e.AccountID
	m.EntryType = e.EntryType
	m.Amount = e.Amount
	m.Currency = e.Currency
	m.BalanceAfter = e.BalanceAfter
	m.Sequence = e.Sequence
	m.Description = e.Description
	m.CreatedAt = e.CreatedAt
}

// EscrowHoldModel is the persistence model for the EscrowHold aggregate root.
type EscrowHoldModel struct {
	AggregateModel
	WalletAccountID   uuid.UUID            `gorm:"type:uuid;not null;index"`
	EscrowAccountID   uuid.UUID            `gorm:"type:uuid;not null;index"`
	Currency          valueobject.Currency `gorm:"type:varchar(10);not null"`
	Amount            decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	Remaining         decimal.Decimal      `gorm:"type:decimal(38,18);not null"`
	Status            ledger.HoldStatus    `gorm:"type:varchar(20);not null;index"`
	ReferenceType     *string              `gorm:"type:varchar(30);index:idx_escrow_holds_reference,priority:1"`
	ReferenceID       *uuid.UUID           `gorm:"type:uuid;index:idx_escrow_holds_reference,priority:2"`
	LockTransactionID uuid.UUID            `gorm:"type:uuid;not null"`
	ClosedAt          *time.Time
}

// TableName returns the table name for GORM
func (EscrowHoldModel) TableName() string {
	return "escrow_holds"
}

// ToDomain converts the persistence model to a domain EscrowHold.
func (m *EscrowHoldModel) ToDomain() *ledger.EscrowHold {
	h := &ledger.EscrowHold{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		WalletAccountID:   m.WalletAccountID,
		EscrowAccountID:   m.EscrowAccountID,
		Currency:          m.Currency,
		Amount:            m.Amount,
		Remaining:         m.Remaining,
		Status:            m.Status,
		LockTransactionID: m.LockTransactionID,
		ClosedAt:          m.ClosedAt,
	}
	if m.ReferenceType != nil && m.ReferenceID != nil {
		h.Reference = &ledger.Reference{Type: *m.ReferenceType, ID: *m.ReferenceID}
	}
	return h
}

// FromDomain populates the persistence model from a domain EscrowHold.
func (m *EscrowHoldModel) FromDomain(h *ledger.EscrowHold) {
	m.FromDomainAggregateRoot(h.BaseAggregateRoot)
	m.WalletAccountID = h.WalletAccountID
	m.EscrowAccountID = h.EscrowAccountID
	m.Currency = h.Currency
	m.Amount = h.Amount
	m.Remaining = h.Remaining
	m.Status = h.Status
	m.ReferenceType, m.ReferenceID = nil, nil
	if h.Reference != nil {
		refType, refID := h.Reference.Type, h.Reference.ID
		m.ReferenceType = &refType
		m.ReferenceID = &refID
	}
	m.LockTransactionID = h.LockTransactionID
	m.ClosedAt = h.ClosedAt
}

// EscrowHoldModelFromDomain creates a new persistence model from a domain EscrowHold.
func EscrowHoldModelFromDomain(h *ledger.EscrowHold) *EscrowHoldModel {
	m := &EscrowHoldModel{}
	m.FromDomain(h)
	return m
}

// IdempotencyKeyModel stores a caller-supplied key and the transaction it produced.
// Keys never expire.
type IdempotencyKeyModel struct {
	Key           string    `gorm:"type:varchar(128);primaryKey"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null"`
	Fingerprint   string    `gorm:"type:varchar(64);not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IdempotencyKeyModel) TableName() string {
	return "idempotency_keys"
}

// ToDomain converts the persistence model to a domain IdempotencyRecord.
func (m *IdempotencyKeyModel) ToDomain() *ledger.IdempotencyRecord {
	return &ledger.IdempotencyRecord{
		Key:           m.Key,
		TransactionID: m.TransactionID,
		Fingerprint:   m.Fingerprint,
		CreatedAt:     m.CreatedAt,
	}
}

// IdempotencyKeyModelFromDomain creates a new persistence model from a domain IdempotencyRecord.
func IdempotencyKeyModelFromDomain(r *ledger.IdempotencyRecord) *IdempotencyKeyModel {
	return &IdempotencyKeyModel{
		Key:           r.Key,
		TransactionID: r.TransactionID,
		Fingerprint:   r.Fingerprint,
		CreatedAt:     r.CreatedAt,
	}
}
