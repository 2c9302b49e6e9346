package ledger

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// EntrySpec requests one leg of a posting
type EntrySpec struct {
	AccountID   uuid.UUID       `json:"account_id"`
	EntryType   EntryType       `json:"entry_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// PostingParams describes a transaction to post
type PostingParams struct {
	// TransactionID pre-assigns the transaction ID; zero generates one
	TransactionID  uuid.UUID
	Type           TransactionType
	Description    string
	Currency       valueobject.Currency
	Amount         decimal.Decimal
	InitiatorID    string
	IdempotencyKey string
	Reference      *Reference
	Metadata       map[string]string
	ReversesID     *uuid.UUID
	Entries        []EntrySpec
}

// Validate runs every check that needs no stored state.
// The balance check comes before the entry count so a lone debit reports as unbalanced.
func (p PostingParams) Validate() error {
	if !p.Type.IsValid() {
		return ErrInvalidType.WithDetail("type", p.Type.String())
	}
	if !p.Currency.IsValid() {
		return ErrInvalidCurrency.WithDetail("currency", p.Currency.String())
	}
	if p.IdempotencyKey != "" {
		if err := ValidateIdempotencyKey(p.IdempotencyKey); err != nil {
			return err
		}
	}

	scale := p.Currency.Scale()
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range p.Entries {
		if e.AccountID == uuid.Nil {
			return ErrAccountNotFound.WithDetail("account_id", e.AccountID.String())
		}
		if !e.EntryType.IsValid() {
			return ErrInvalidAmount.WithMessage("Entry type must be DEBIT or CREDIT").WithDetail("entry_type", e.EntryType.String())
		}
		if e.Amount.IsNegative() || !e.Amount.Equal(e.Amount.Truncate(scale)) {
			return ErrInvalidAmount.WithDetail("account_id", e.AccountID.String()).WithDetail("amount", e.Amount.String())
		}
		if e.EntryType == EntryTypeDebit {
			debits = debits.Add(e.Amount)
		} else {
			credits = credits.Add(e.Amount)
		}
	}

	if !debits.Equal(credits) {
		return ErrUnbalancedEntries.
			WithDetail("currency", p.Currency.String()).
			WithDetail("debits", debits.String()).
			WithDetail("credits", credits.String())
	}
	if len(p.Entries) < 2 {
		return ErrInsufficientEntries.WithDetail("entries", strconv.Itoa(len(p.Entries)))
	}
	if !p.Amount.IsPositive() || !p.Amount.Equal(p.Amount.Truncate(scale)) {
		return ErrInvalidAmount.WithDetail("amount", p.Amount.String())
	}
	if !p.Amount.Equal(debits) {
		return ErrNominalMismatch.WithDetail("amount", p.Amount.String()).WithDetail("debits", debits.String())
	}
	return nil
}

// AccountIDs returns the distinct accounts referenced by the entries, in order of first use
func (p PostingParams) AccountIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(p.Entries))
	ids := make([]uuid.UUID, 0, len(p.Entries))
	for _, e := range p.Entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		ids = append(ids, e.AccountID)
	}
	return ids
}

// ValidateAccounts checks existence, currency, status and reserve access of
// every account the posting touches
func (p PostingParams) ValidateAccounts(accounts map[uuid.UUID]*Account) error {
	for _, id := range p.AccountIDs() {
		a, ok := accounts[id]
		if !ok || a == nil {
			return ErrAccountNotFound.WithDetail("account_id", id.String())
		}
		if a.Currency != p.Currency {
			return ErrCurrencyMismatch.
				WithDetail("account_id", id.String()).
				WithDetail("account_currency", a.Currency.String()).
				WithDetail("currency", p.Currency.String())
		}
		if err := a.CheckPostable(p.Type); err != nil {
			return err
		}
	}
	return nil
}

// AccountHead is the latest committed position of an account's entry chain.
// Sequence 0 means the account has no entries.
type AccountHead struct {
	AccountID uuid.UUID
	Sequence  int64
	Balance   decimal.Decimal
}

// SequenceEntries stamps each entry with the account's next sequence number
// and running balance. It fails with INSUFFICIENT_BALANCE when an account
// that must stay non-negative would go below zero.
func SequenceEntries(txID uuid.UUID, p PostingParams, accounts map[uuid.UUID]*Account, heads map[uuid.UUID]AccountHead) ([]LedgerEntry, error) {
	now := time.Now().UTC()
	positions := make(map[uuid.UUID]AccountHead, len(heads))
	for id, h := range heads {
		positions[id] = h
	}

	entries := make([]LedgerEntry, 0, len(p.Entries))
	for _, spec := range p.Entries {
		head := positions[spec.AccountID]
		balance := head.Balance.Add(signed(spec.EntryType, spec.Amount))

		a := accounts[spec.AccountID]
		if a != nil && !a.AllowsNegativeBalance() && balance.IsNegative() {
			return nil, ErrInsufficientBalance.
				WithDetail("account_id", spec.AccountID.String()).
				WithDetail("available", head.Balance.String()).
				WithDetail("required", spec.Amount.String())
		}

		head = AccountHead{AccountID: spec.AccountID, Sequence: head.Sequence + 1, Balance: balance}
		positions[spec.AccountID] = head

		entries = append(entries, LedgerEntry{
			ID:            uuid.New(),
			TransactionID: txID,
			AccountID:     spec.AccountID,
			EntryType:     spec.EntryType,
			Amount:        spec.Amount,
			Currency:      p.Currency,
			BalanceAfter:  balance,
			Sequence:      head.Sequence,
			Description:   spec.Description,
			CreatedAt:     now,
		})
	}
	return entries, nil
}
