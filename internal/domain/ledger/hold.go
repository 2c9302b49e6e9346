package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// HoldStatus is the status of an escrow hold
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "ACTIVE"    // Funds locked in escrow
	HoldStatusReleased  HoldStatus = "RELEASED"  // Remainder returned to the wallet
	HoldStatusForfeited HoldStatus = "FORFEITED" // Fully consumed by settlement
)

// String returns the string representation of HoldStatus
func (s HoldStatus) String() string {
	return string(s)
}

// EscrowHold tracks value moved from a wallet into escrow by an ESCROW_LOCK
// transaction until it is consumed by settlement or released
type EscrowHold struct {
	shared.BaseAggregateRoot
	WalletAccountID   uuid.UUID            `json:"wallet_account_id"`
	EscrowAccountID   uuid.UUID            `json:"escrow_account_id"`
	Currency          valueobject.Currency `json:"currency"`
	Amount            decimal.Decimal      `json:"amount"`
	Remaining         decimal.Decimal      `json:"remaining"`
	Status            HoldStatus           `json:"status"`
	Reference         *Reference           `json:"reference,omitempty"`
	LockTransactionID uuid.UUID            `json:"lock_transaction_id"`
	ClosedAt          *time.Time           `json:"closed_at,omitempty"`
}

// NewEscrowHold creates an active hold for a committed lock transaction
func NewEscrowHold(wallet, escrow *Account, amount decimal.Decimal, ref *Reference, lockTxID uuid.UUID) (*EscrowHold, error) {
	if wallet.Type != AccountTypeUserWallet {
		return nil, ErrInvalidAccountType.WithDetail("account_id", wallet.ID.String()).WithDetail("type", wallet.Type.String())
	}
	if escrow.Type != AccountTypeUserEscrow {
		return nil, ErrInvalidAccountType.WithDetail("account_id", escrow.ID.String()).WithDetail("type", escrow.Type.String())
	}
	if wallet.Currency != escrow.Currency {
		return nil, ErrCurrencyMismatch.WithDetail("account_id", escrow.ID.String())
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount.WithDetail("amount", amount.String())
	}

	return &EscrowHold{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		WalletAccountID:   wallet.ID,
		EscrowAccountID:   escrow.ID,
		Currency:          wallet.Currency,
		Amount:            amount,
		Remaining:         amount,
		Status:            HoldStatusActive,
		Reference:         ref,
		LockTransactionID: lockTxID,
	}, nil
}

// IsActive returns true while the hold still locks funds
func (h *EscrowHold) IsActive() bool {
	return h.Status == HoldStatusActive
}

// Consume takes amount out of the hold for settlement. A fully consumed hold
// becomes FORFEITED.
func (h *EscrowHold) Consume(amount decimal.Decimal) error {
	if !h.IsActive() {
		return ErrHoldNotActive.WithDetail("hold_id", h.ID.String()).WithDetail("status", h.Status.String())
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount.WithDetail("amount", amount.String())
	}
	if amount.GreaterThan(h.Remaining) {
		return ErrHoldExceeded.
			WithDetail("hold_id", h.ID.String()).
			WithDetail("remaining", h.Remaining.String()).
			WithDetail("amount", amount.String())
	}
	h.Remaining = h.Remaining.Sub(amount)
	if h.Remaining.IsZero() {
		h.close(HoldStatusForfeited)
		return nil
	}
	h.IncrementVersion()
	return nil
}

// Release returns the remaining amount and marks the hold RELEASED
func (h *EscrowHold) Release() (decimal.Decimal, error) {
	if !h.IsActive() {
		return decimal.Zero, ErrHoldNotActive.WithDetail("hold_id", h.ID.String()).WithDetail("status", h.Status.String())
	}
	remaining := h.Remaining
	h.Remaining = decimal.Zero
	h.close(HoldStatusReleased)
	return remaining, nil
}

// ReleasePartial returns part of the hold to the wallet. Releasing everything
// that remains marks the hold RELEASED.
func (h *EscrowHold) ReleasePartial(amount decimal.Decimal) error {
	if !h.IsActive() {
		return ErrHoldNotActive.WithDetail("hold_id", h.ID.String()).WithDetail("status", h.Status.String())
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount.WithDetail("amount", amount.String())
	}
	if amount.GreaterThan(h.Remaining) {
		return ErrHoldExceeded.
			WithDetail("hold_id", h.ID.String()).
			WithDetail("remaining", h.Remaining.String()).
			WithDetail("amount", amount.String())
	}
	h.Remaining = h.Remaining.Sub(amount)
	if h.Remaining.IsZero() {
		h.close(HoldStatusReleased)
		return nil
	}
	h.IncrementVersion()
	return nil
}

func (h *EscrowHold) close(status HoldStatus) {
	now := time.Now().UTC()
	h.Status = status
	h.ClosedAt = &now
	h.IncrementVersion()
}
