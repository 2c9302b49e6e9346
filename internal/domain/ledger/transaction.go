package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// TransactionType is the kind of financial event a transaction records
type TransactionType string

const (
	TransactionTypeDeposit         TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal      TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer        TransactionType = "TRANSFER"
	TransactionTypeTradeBuy        TransactionType = "TRADE_BUY"
	TransactionTypeTradeSell       TransactionType = "TRADE_SELL"
	TransactionTypeSettlement      TransactionType = "SETTLEMENT"
	TransactionTypeFeeCharge       TransactionType = "FEE_CHARGE"
	TransactionTypeBonusGrant      TransactionType = "BONUS_GRANT"
	TransactionTypeEscrowLock      TransactionType = "ESCROW_LOCK"
	TransactionTypeEscrowRelease   TransactionType = "ESCROW_RELEASE"
	TransactionTypeReversal        TransactionType = "REVERSAL"
	TransactionTypeAdjustment      TransactionType = "ADJUSTMENT"
	TransactionTypeInsurancePayout TransactionType = "INSURANCE_PAYOUT"
)

// IsValid checks if the type is a known TransactionType
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer,
		TransactionTypeTradeBuy, TransactionTypeTradeSell, TransactionTypeSettlement,
		TransactionTypeFeeCharge, TransactionTypeBonusGrant, TransactionTypeEscrowLock,
		TransactionTypeEscrowRelease, TransactionTypeReversal, TransactionTypeAdjustment,
		TransactionTypeInsurancePayout:
		return true
	}
	return false
}

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// MayTouchReserve reports whether the type is in the closed set allowed to
// move value in or out of reserve and insurance accounts
func (t TransactionType) MayTouchReserve() bool {
	switch t {
	case TransactionTypeAdjustment, TransactionTypeBonusGrant,
		TransactionTypeReversal, TransactionTypeInsurancePayout:
		return true
	}
	return false
}

// IsCorrection returns true for administrative corrections, which may post to frozen accounts
func (t TransactionType) IsCorrection() bool {
	return t == TransactionTypeReversal || t == TransactionTypeAdjustment
}

// TransactionStatus is the lifecycle status of a ledger transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCommitted TransactionStatus = "COMMITTED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusReversed  TransactionStatus = "REVERSED"
)

// String returns the string representation of TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// EntryType is the side of a posting
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// IsValid checks if the entry type is DEBIT or CREDIT
func (t EntryType) IsValid() bool {
	return t == EntryTypeDebit || t == EntryTypeCredit
}

// Opposite returns the other side
func (t EntryType) Opposite() EntryType {
	if t == EntryTypeDebit {
		return EntryTypeCredit
	}
	return EntryTypeDebit
}

// String returns the string representation of EntryType
func (t EntryType) String() string {
	return string(t)
}

// Reference types used by callers of the posting service
const (
	ReferenceOrder             = "ORDER"
	ReferenceTrade             = "TRADE"
	ReferenceSettlement        = "SETTLEMENT"
	ReferenceTransaction       = "TRANSACTION"
	ReferenceReconciliationRun = "RECONCILIATION_RUN"
	ReferenceExternal          = "EXTERNAL"
)

// Reference points at the entity that caused a transaction
type Reference struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// String renders TYPE:id
func (r Reference) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// LedgerEntry is one immutable leg of a transaction
type LedgerEntry struct {
	ID            uuid.UUID            `json:"id"`
	TransactionID uuid.UUID            `json:"transaction_id"`
	AccountID     uuid.UUID            `json:"account_id"`
	EntryType     EntryType            `json:"entry_type"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      valueobject.Currency `json:"currency"`
	BalanceAfter  decimal.Decimal      `json:"balance_after"`
	Sequence      int64                `json:"sequence"`
	Description   string               `json:"description,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// SignedAmount returns the entry's effect on the account balance: credits add, debits subtract
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	return signed(e.EntryType, e.Amount)
}

func signed(t EntryType, amount decimal.Decimal) decimal.Decimal {
	if t == EntryTypeDebit {
		return amount.Neg()
	}
	return amount
}

// LedgerTransaction is an atomic financial event. It is committed or failed
// as a whole; corrections are new transactions, never edits.
type LedgerTransaction struct {
	shared.BaseAggregateRoot
	Type           TransactionType      `json:"type"`
	Description    string               `json:"description"`
	Currency       valueobject.Currency `json:"currency"`
	Amount         decimal.Decimal      `json:"amount"`
	InitiatorID    string               `json:"initiator_id"`
	IdempotencyKey *string              `json:"idempotency_key,omitempty"`
	Reference      *Reference           `json:"reference,omitempty"`
	Status         TransactionStatus    `json:"status"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
	ReversesID     *uuid.UUID           `json:"reverses_id,omitempty"`
	ReversedByID   *uuid.UUID           `json:"reversed_by_id,omitempty"`
	FailureReason  string               `json:"failure_reason,omitempty"`
	CommittedAt    *time.Time           `json:"committed_at,omitempty"`
	Entries        []LedgerEntry        `json:"entries"`
}

// NewLedgerTransaction builds a pending transaction from validated params
func NewLedgerTransaction(p PostingParams) (*LedgerTransaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	root := shared.NewBaseAggregateRoot()
	if p.TransactionID != uuid.Nil {
		root.ID = p.TransactionID
	}
	t := &LedgerTransaction{
		BaseAggregateRoot: root,
		Type:              p.Type,
		Description:       p.Description,
		Currency:          p.Currency,
		Amount:            p.Amount,
		InitiatorID:       p.InitiatorID,
		Reference:         p.Reference,
		Status:            TransactionStatusPending,
		Metadata:          p.Metadata,
		ReversesID:        p.ReversesID,
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		t.IdempotencyKey = &key
	}
	return t, nil
}

// Commit attaches the sequenced entries and marks the transaction committed
func (t *LedgerTransaction) Commit(entries []LedgerEntry) error {
	if t.Status != TransactionStatusPending {
		return ErrTransactionState.WithDetail("transaction_id", t.ID.String()).WithDetail("status", t.Status.String())
	}
	now := time.Now().UTC()
	t.Entries = entries
	t.Status = TransactionStatusCommitted
	t.CommittedAt = &now
	t.Touch()
	t.AddDomainEvent(NewTransactionCommittedEvent(t))
	return nil
}

// NewFailedTransaction describes a rejected posting for the failure feed.
// Params may be invalid, so nothing is validated here.
func NewFailedTransaction(p PostingParams, reason string) *LedgerTransaction {
	root := shared.NewBaseAggregateRoot()
	if p.TransactionID != uuid.Nil {
		root.ID = p.TransactionID
	}
	t := &LedgerTransaction{
		BaseAggregateRoot: root,
		Type:              p.Type,
		Description:       p.Description,
		Currency:          p.Currency,
		Amount:            p.Amount,
		InitiatorID:       p.InitiatorID,
		Reference:         p.Reference,
		Status:            TransactionStatusPending,
	}
	t.MarkFailed(reason)
	return t
}

// MarkFailed records a failed attempt. Failed transactions are not persisted.
func (t *LedgerTransaction) MarkFailed(reason string) {
	t.Status = TransactionStatusFailed
	t.FailureReason = reason
	t.Touch()
	t.AddDomainEvent(NewTransactionFailedEvent(t))
}

// MarkReversed links the compensating transaction. Only committed, non-reversal
// transactions can be reversed, and only once.
func (t *LedgerTransaction) MarkReversed(reversalID uuid.UUID) error {
	if err := t.CheckReversible(); err != nil {
		return err
	}
	t.Status = TransactionStatusReversed
	t.ReversedByID = &reversalID
	t.IncrementVersion()
	t.AddDomainEvent(NewTransactionReversedEvent(t))
	return nil
}

// CheckReversible verifies that a compensating reversal may be posted
func (t *LedgerTransaction) CheckReversible() error {
	if t.Status != TransactionStatusCommitted || t.Type == TransactionTypeReversal {
		return ErrTransactionState.
			WithDetail("transaction_id", t.ID.String()).
			WithDetail("status", t.Status.String()).
			WithDetail("type", t.Type.String())
	}
	return nil
}

// ReversalEntries returns the original entries with every side flipped
func (t *LedgerTransaction) ReversalEntries() []EntrySpec {
	specs := make([]EntrySpec, 0, len(t.Entries))
	for _, e := range t.Entries {
		specs = append(specs, EntrySpec{
			AccountID:   e.AccountID,
			EntryType:   e.EntryType.Opposite(),
			Amount:      e.Amount,
			Description: "reversal of " + t.ID.String(),
		})
	}
	return specs
}

// AccountIDs returns the distinct accounts touched by the transaction
func (t *LedgerTransaction) AccountIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(t.Entries))
	ids := make([]uuid.UUID, 0, len(t.Entries))
	for _, e := range t.Entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		ids = append(ids, e.AccountID)
	}
	return ids
}
