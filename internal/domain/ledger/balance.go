package ledger

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// BalanceView is the read model returned by balance queries.
// Escrow locks move value out of the wallet, so Available is already net of holds.
type BalanceView struct {
	AccountID    uuid.UUID            `json:"account_id"`
	Currency     valueobject.Currency `json:"currency"`
	Available    decimal.Decimal      `json:"available"`
	Held         decimal.Decimal      `json:"held"`
	Total        decimal.Decimal      `json:"total"`
	AsOfSequence int64                `json:"as_of_sequence"`
}

// NewBalanceView combines the entry head with the active holds of the wallet
func NewBalanceView(a *Account, head AccountHead, held decimal.Decimal) BalanceView {
	return BalanceView{
		AccountID:    a.ID,
		Currency:     a.Currency,
		Available:    head.Balance,
		Held:         held,
		Total:        head.Balance.Add(held),
		AsOfSequence: head.Sequence,
	}
}

// BalanceSnapshot is a cached materialization of an account's balance through
// a sequence number. It can always be re-derived from entries.
type BalanceSnapshot struct {
	AccountID  uuid.UUID       `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	Sequence   int64           `json:"sequence"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Head converts the snapshot to an AccountHead
func (s BalanceSnapshot) Head() AccountHead {
	return AccountHead{AccountID: s.AccountID, Sequence: s.Sequence, Balance: s.Balance}
}

// IsFresh reports whether the snapshot is younger than maxAge. A zero maxAge never expires.
func (s BalanceSnapshot) IsFresh(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return true
	}
	return now.Sub(s.ComputedAt) <= maxAge
}

// Advance rolls the snapshot forward over entries that follow it, verifying
// that sequences are contiguous and every balance-after is the running sum
func (s BalanceSnapshot) Advance(entries []LedgerEntry) (BalanceSnapshot, error) {
	head, err := VerifyChain(s.Head(), entries)
	if err != nil {
		return s, err
	}
	return BalanceSnapshot{
		AccountID:  s.AccountID,
		Balance:    head.Balance,
		Sequence:   head.Sequence,
		ComputedAt: time.Now().UTC(),
	}, nil
}

// VerifyChain checks entries ordered by sequence against a starting head and
// returns the head after the last entry
func VerifyChain(from AccountHead, entries []LedgerEntry) (AccountHead, error) {
	head := from
	for _, e := range entries {
		if e.Sequence != head.Sequence+1 {
			return head, ErrSequenceGap.
				WithDetail("account_id", e.AccountID.String()).
				WithDetail("expected", strconv.FormatInt(head.Sequence+1, 10)).
				WithDetail("actual", strconv.FormatInt(e.Sequence, 10))
		}
		want := head.Balance.Add(e.SignedAmount())
		if !want.Equal(e.BalanceAfter) {
			return head, ErrBrokenChain.
				WithDetail("account_id", e.AccountID.String()).
				WithDetail("sequence", strconv.FormatInt(e.Sequence, 10)).
				WithDetail("expected", want.String()).
				WithDetail("actual", e.BalanceAfter.String())
		}
		head = AccountHead{AccountID: e.AccountID, Sequence: e.Sequence, Balance: e.BalanceAfter}
	}
	return head, nil
}
