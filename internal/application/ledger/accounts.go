package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// EnsurePlatformAccountIn returns the platform singleton of type t for
// currency, opening it inside the unit of work when it does not exist yet.
func EnsurePlatformAccountIn(ctx context.Context, repos TransactionalRepositories, t ledger.AccountType, currency valueobject.Currency) (*ledger.Account, error) {
	account, err := repos.Accounts().FindByCode(ctx, ledger.PlatformAccountCode(t, currency))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, err
	}

	account, err = ledger.NewPlatformAccount(t, currency)
	if err != nil {
		return nil, err
	}
	if err := openAccount(ctx, repos, account, audit.SystemActor("ledger")); err != nil {
		return nil, err
	}
	return account, nil
}

// EnsureUserAccountIn returns the user's account of type t for currency,
// opening it inside the unit of work when it does not exist yet.
func EnsureUserAccountIn(ctx context.Context, repos TransactionalRepositories, ownerID uuid.UUID, t ledger.AccountType, currency valueobject.Currency) (*ledger.Account, error) {
	account, err := repos.Accounts().FindByCode(ctx, ledger.UserAccountCode(ownerID, t, currency))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, err
	}

	account, err = ledger.NewUserAccount(ownerID, t, currency)
	if err != nil {
		return nil, err
	}
	if err := openAccount(ctx, repos, account, audit.SystemActor("ledger")); err != nil {
		return nil, err
	}
	return account, nil
}

// openAccount inserts a get-or-create account. A concurrent creator wins the
// unique code, so the unit of work is retried and finds the account.
func openAccount(ctx context.Context, repos TransactionalRepositories, account *ledger.Account, actor audit.Actor) error {
	if err := repos.Accounts().Create(ctx, account); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return shared.ErrConcurrencyConflict.WithDetail("code", account.Code)
		}
		return err
	}
	return recordAccountOpened(ctx, repos, account, actor)
}

func recordAccountOpened(ctx context.Context, repos TransactionalRepositories, account *ledger.Account, actor audit.Actor) error {
	entry, err := audit.NewEntry(audit.ActionAccountOpened, actor, ledger.AggregateTypeAccount, account.ID, nil, account, "")
	if err != nil {
		return err
	}
	if err := repos.Audit().Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := repos.Outbox().Append(ctx, account.PullDomainEvents()...); err != nil {
		return fmt.Errorf("failed to write outbox events: %w", err)
	}
	return nil
}
