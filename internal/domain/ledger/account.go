package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// AccountType classifies what an account is used for
type AccountType string

const (
	AccountTypeUserWallet         AccountType = "USER_WALLET"         // Spendable user funds
	AccountTypeUserEscrow         AccountType = "USER_ESCROW"         // Funds locked against open orders
	AccountTypePlatformRevenue    AccountType = "PLATFORM_REVENUE"    // Platform income
	AccountTypePlatformReserve    AccountType = "PLATFORM_RESERVE"    // Corrections and grants source
	AccountTypePlatformInsurance  AccountType = "PLATFORM_INSURANCE"  // Insurance fund
	AccountTypeSettlementPool     AccountType = "SETTLEMENT_POOL"     // Transit for deferred settlement
	AccountTypeFeeCollection      AccountType = "FEE_COLLECTION"      // Trading fees
	AccountTypeExternalDeposit    AccountType = "EXTERNAL_DEPOSIT"    // Conduit for incoming funds
	AccountTypeExternalWithdrawal AccountType = "EXTERNAL_WITHDRAWAL" // Conduit for outgoing funds
)

// IsValid checks if the type is a known AccountType
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeUserWallet, AccountTypeUserEscrow, AccountTypePlatformRevenue,
		AccountTypePlatformReserve, AccountTypePlatformInsurance, AccountTypeSettlementPool,
		AccountTypeFeeCollection, AccountTypeExternalDeposit, AccountTypeExternalWithdrawal:
		return true
	}
	return false
}

// String returns the string representation of AccountType
func (t AccountType) String() string {
	return string(t)
}

// IsUserOwned returns true for accounts held per user
func (t AccountType) IsUserOwned() bool {
	return t == AccountTypeUserWallet || t == AccountTypeUserEscrow
}

// IsReserve returns true for the platform funds guarded by RESERVE_ACCESS_DENIED
func (t AccountType) IsReserve() bool {
	return t == AccountTypePlatformReserve || t == AccountTypePlatformInsurance
}

// AllowsNegativeBalance returns true for conduits and reserve funds
func (t AccountType) AllowsNegativeBalance() bool {
	switch t {
	case AccountTypeExternalDeposit, AccountTypeExternalWithdrawal,
		AccountTypePlatformReserve, AccountTypePlatformInsurance:
		return true
	}
	return false
}

// AccountStatus is the administrative status of an account
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusFrozen    AccountStatus = "FROZEN"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

// IsValid checks if the status is a known AccountStatus
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusSuspended, AccountStatusClosed:
		return true
	}
	return false
}

// String returns the string representation of AccountStatus
func (s AccountStatus) String() string {
	return string(s)
}

// Account is an addressable balance holder in exactly one currency.
// Accounts are never deleted; closed accounts keep their history.
type Account struct {
	shared.BaseAggregateRoot
	Code         string               `json:"code"`
	OwnerID      *uuid.UUID           `json:"owner_id,omitempty"`
	Type         AccountType          `json:"type"`
	Status       AccountStatus        `json:"status"`
	Currency     valueobject.Currency `json:"currency"`
	StatusReason string               `json:"status_reason,omitempty"`
}

// UserAccountCode builds the unique code of a user account
func UserAccountCode(ownerID uuid.UUID, t AccountType, currency valueobject.Currency) string {
	return fmt.Sprintf("USER:%s:%s:%s", ownerID, t, currency)
}

// PlatformAccountCode builds the unique code of a platform singleton
func PlatformAccountCode(t AccountType, currency valueobject.Currency) string {
	return fmt.Sprintf("PLATFORM:%s:%s", t, currency)
}

// NewUserAccount opens a wallet or escrow account for a user
func NewUserAccount(ownerID uuid.UUID, t AccountType, currency valueobject.Currency) (*Account, error) {
	if ownerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_OWNER", "Owner ID cannot be empty")
	}
	if !t.IsUserOwned() {
		return nil, ErrInvalidAccountType.WithDetail("type", t.String())
	}
	if !currency.IsValid() {
		return nil, ErrInvalidCurrency.WithDetail("currency", currency.String())
	}

	owner := ownerID
	a := &Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Code:              UserAccountCode(ownerID, t, currency),
		OwnerID:           &owner,
		Type:              t,
		Status:            AccountStatusActive,
		Currency:          currency,
	}
	a.AddDomainEvent(NewAccountOpenedEvent(a))
	return a, nil
}

// NewPlatformAccount creates a platform singleton account
func NewPlatformAccount(t AccountType, currency valueobject.Currency) (*Account, error) {
	if !t.IsValid() || t.IsUserOwned() {
		return nil, ErrInvalidAccountType.WithDetail("type", t.String())
	}
	if !currency.IsValid() {
		return nil, ErrInvalidCurrency.WithDetail("currency", currency.String())
	}

	a := &Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Code:              PlatformAccountCode(t, currency),
		Type:              t,
		Status:            AccountStatusActive,
		Currency:          currency,
	}
	a.AddDomainEvent(NewAccountOpenedEvent(a))
	return a, nil
}

// AllowsNegativeBalance reports whether postings may drive the balance below zero
func (a *Account) AllowsNegativeBalance() bool {
	return a.Type.AllowsNegativeBalance()
}

// IsPlatform returns true for accounts without an owner
func (a *Account) IsPlatform() bool {
	return a.OwnerID == nil
}

// CheckPostable verifies that a transaction of the given type may post to this account
func (a *Account) CheckPostable(txType TransactionType) error {
	switch a.Status {
	case AccountStatusClosed:
		return ErrAccountClosed.WithDetail("account_id", a.ID.String())
	case AccountStatusFrozen, AccountStatusSuspended:
		if !txType.IsCorrection() {
			return ErrAccountFrozen.WithDetail("account_id", a.ID.String()).WithDetail("status", a.Status.String())
		}
	}
	if a.Type.IsReserve() && !txType.MayTouchReserve() {
		return ErrReserveAccess.WithDetail("account_id", a.ID.String()).WithDetail("type", txType.String())
	}
	return nil
}

// Freeze blocks ordinary postings to the account
func (a *Account) Freeze(reason string) error {
	if a.Status != AccountStatusActive {
		return a.transitionError(AccountStatusFrozen)
	}
	return a.changeStatus(AccountStatusFrozen, reason)
}

// Unfreeze returns a frozen account to active
func (a *Account) Unfreeze(reason string) error {
	if a.Status != AccountStatusFrozen {
		return a.transitionError(AccountStatusActive)
	}
	return a.changeStatus(AccountStatusActive, reason)
}

// Suspend takes an active or frozen account out of service pending review
func (a *Account) Suspend(reason string) error {
	if a.Status != AccountStatusActive && a.Status != AccountStatusFrozen {
		return a.transitionError(AccountStatusSuspended)
	}
	return a.changeStatus(AccountStatusSuspended, reason)
}

// Reinstate returns a suspended account to active
func (a *Account) Reinstate(reason string) error {
	if a.Status != AccountStatusSuspended {
		return a.transitionError(AccountStatusActive)
	}
	return a.changeStatus(AccountStatusActive, reason)
}

// Close permanently closes the account. The caller must check that the
// balance is zero and no holds are active.
func (a *Account) Close(reason string) error {
	if a.Status == AccountStatusClosed {
		return a.transitionError(AccountStatusClosed)
	}
	return a.changeStatus(AccountStatusClosed, reason)
}

func (a *Account) changeStatus(to AccountStatus, reason string) error {
	from := a.Status
	a.Status = to
	a.StatusReason = strings.TrimSpace(reason)
	a.IncrementVersion()
	a.AddDomainEvent(NewAccountStatusChangedEvent(a, from))
	return nil
}

func (a *Account) transitionError(to AccountStatus) error {
	return ErrAccountTransition.
		WithDetail("account_id", a.ID.String()).
		WithDetail("from", a.Status.String()).
		WithDetail("to", to.String())
}
