package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// Movement kinds accepted by the transaction endpoint
const (
	MovementDeposit    = "DEPOSIT"
	MovementWithdrawal = "WITHDRAWAL"
	MovementTransfer   = "TRANSFER"
)

// OpenAccountRequest opens a user wallet or escrow account
type OpenAccountRequest struct {
	OwnerID  string `json:"owner_id" binding:"required,uuid"`
	Type     string `json:"type" binding:"required,oneof=USER_WALLET USER_ESCROW"`
	Currency string `json:"currency" binding:"required,currency"`
}

// ToRequest converts the body into the service request
func (r OpenAccountRequest) ToRequest() appledger.OpenAccountRequest {
	return appledger.OpenAccountRequest{
		OwnerID:  uuid.MustParse(r.OwnerID),
		Type:     ledger.AccountType(r.Type),
		Currency: valueobject.Currency(r.Currency),
	}
}

// AccountListQuery filters the account listing
type AccountListQuery struct {
	ListRequest
	OwnerID  string `form:"owner_id" binding:"omitempty,uuid"`
	Type     string `form:"type"`
	Status   string `form:"status" binding:"omitempty,oneof=ACTIVE FROZEN SUSPENDED CLOSED"`
	Currency string `form:"currency" binding:"omitempty,currency"`
}

// ToFilter converts the query into a repository filter
func (q AccountListQuery) ToFilter() ledger.AccountFilter {
	f := ledger.AccountFilter{
		Filter:   q.ListRequest.Filter(),
		Type:     ledger.AccountType(q.Type),
		Status:   ledger.AccountStatus(q.Status),
		Currency: valueobject.Currency(q.Currency),
	}
	if q.OwnerID != "" {
		id := uuid.MustParse(q.OwnerID)
		f.OwnerID = &id
	}
	return f
}

// StatusChangeRequest carries the reason of an account lifecycle change
type StatusChangeRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// EntriesQuery pages an account's entry chain by sequence
type EntriesQuery struct {
	After int64 `form:"after" binding:"omitempty,min=0"`
	Limit int   `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ReferenceRequest names the entity that caused a posting
type ReferenceRequest struct {
	Type string `json:"type" binding:"required,max=64"`
	ID   string `json:"id" binding:"required,uuid"`
}

func (r *ReferenceRequest) toReference() *ledger.Reference {
	if r == nil {
		return nil
	}
	return &ledger.Reference{Type: r.Type, ID: uuid.MustParse(r.ID)}
}

// MovementRequest is a deposit, withdrawal or transfer. Deposits and
// withdrawals name AccountID; transfers name FromAccountID and ToAccountID.
type MovementRequest struct {
	Type           string            `json:"type" binding:"required,oneof=DEPOSIT WITHDRAWAL TRANSFER"`
	AccountID      string            `json:"account_id" binding:"required_unless=Type TRANSFER,omitempty,uuid"`
	FromAccountID  string            `json:"from_account_id" binding:"required_if=Type TRANSFER,omitempty,uuid"`
	ToAccountID    string            `json:"to_account_id" binding:"required_if=Type TRANSFER,omitempty,uuid,nefield=FromAccountID"`
	Amount         string            `json:"amount" binding:"required,decimal"`
	IdempotencyKey string            `json:"idempotency_key" binding:"omitempty,max=255"`
	Reference      *ReferenceRequest `json:"reference" binding:"omitempty"`
	Description    string            `json:"description" binding:"omitempty,max=500"`
}

// ExternalMovement converts a deposit or withdrawal body
func (r MovementRequest) ExternalMovement() appledger.ExternalMovementRequest {
	return appledger.ExternalMovementRequest{
		WalletAccountID: uuid.MustParse(r.AccountID),
		Amount:          decimal.RequireFromString(r.Amount),
		IdempotencyKey:  r.IdempotencyKey,
		Reference:       r.Reference.toReference(),
		Description:     r.Description,
	}
}

// Transfer converts a transfer body
func (r MovementRequest) Transfer() appledger.TransferRequest {
	return appledger.TransferRequest{
		FromAccountID:  uuid.MustParse(r.FromAccountID),
		ToAccountID:    uuid.MustParse(r.ToAccountID),
		Amount:         decimal.RequireFromString(r.Amount),
		IdempotencyKey: r.IdempotencyKey,
		Reference:      r.Reference.toReference(),
		Description:    r.Description,
	}
}

// TransactionListQuery filters the transaction listing
type TransactionListQuery struct {
	ListRequest
	AccountID string     `form:"account_id" binding:"omitempty,uuid"`
	Type      string     `form:"type"`
	Status    string     `form:"status" binding:"omitempty,oneof=PENDING COMMITTED FAILED REVERSED"`
	From      *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// ToFilter converts the query into a repository filter
func (q TransactionListQuery) ToFilter() ledger.TransactionFilter {
	f := ledger.TransactionFilter{
		Filter: q.ListRequest.Filter(),
		Type:   ledger.TransactionType(q.Type),
		Status: ledger.TransactionStatus(q.Status),
		From:   q.From,
		To:     q.To,
	}
	if q.AccountID != "" {
		id := uuid.MustParse(q.AccountID)
		f.AccountID = &id
	}
	return f
}

// ReasonRequest carries a mandatory reason for corrective operations
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// EntryRequest is one leg of an adjustment
type EntryRequest struct {
	AccountID   string `json:"account_id" binding:"required,uuid"`
	EntryType   string `json:"entry_type" binding:"required,oneof=DEBIT CREDIT"`
	Amount      string `json:"amount" binding:"required,decimal"`
	Description string `json:"description" binding:"omitempty,max=500"`
}

// AdjustmentRequest is an administrative correction with explicit legs
type AdjustmentRequest struct {
	Currency       string            `json:"currency" binding:"required,currency"`
	Reason         string            `json:"reason" binding:"required,max=500"`
	Description    string            `json:"description" binding:"omitempty,max=500"`
	IdempotencyKey string            `json:"idempotency_key" binding:"omitempty,max=255"`
	Reference      *ReferenceRequest `json:"reference" binding:"omitempty"`
	Entries        []EntryRequest    `json:"entries" binding:"required,min=2,dive"`
}

// ToParams converts the body into posting params. The nominal amount is the
// sum of the debit legs.
func (r AdjustmentRequest) ToParams(initiator string) ledger.PostingParams {
	entries := make([]ledger.EntrySpec, 0, len(r.Entries))
	amount := decimal.Zero
	for _, e := range r.Entries {
		spec := ledger.EntrySpec{
			AccountID:   uuid.MustParse(e.AccountID),
			EntryType:   ledger.EntryType(e.EntryType),
			Amount:      decimal.RequireFromString(e.Amount),
			Description: e.Description,
		}
		if spec.EntryType == ledger.EntryTypeDebit {
			amount = amount.Add(spec.Amount)
		}
		entries = append(entries, spec)
	}
	return ledger.PostingParams{
		Type:           ledger.TransactionTypeAdjustment,
		Description:    r.Description,
		Currency:       valueobject.Currency(r.Currency),
		Amount:         amount,
		InitiatorID:    initiator,
		IdempotencyKey: r.IdempotencyKey,
		Reference:      r.Reference.toReference(),
		Entries:        entries,
	}
}

// PostingResponse is a committed or replayed posting
type PostingResponse struct {
	Transaction *ledger.LedgerTransaction `json:"transaction"`
	Hold        *ledger.EscrowHold        `json:"hold,omitempty"`
	Replayed    bool                      `json:"replayed"`
}

// NewPostingResponse converts a posting result
func NewPostingResponse(r *appledger.PostingResult) PostingResponse {
	return PostingResponse{Transaction: r.Transaction, Hold: r.Hold, Replayed: r.Replayed}
}
