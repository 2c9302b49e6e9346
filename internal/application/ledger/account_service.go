package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// OpenAccountRequest opens a user account
type OpenAccountRequest struct {
	OwnerID  uuid.UUID
	Type     ledger.AccountType
	Currency valueobject.Currency
}

// AccountService manages the account lifecycle
type AccountService struct {
	scope  TransactionScope
	logger *zap.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(scope TransactionScope, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{scope: scope, logger: logger}
}

// OpenUserAccount opens a wallet or escrow account. A user holds at most one
// account per type and currency; a duplicate returns ACCOUNT_EXISTS.
func (s *AccountService) OpenUserAccount(ctx context.Context, req OpenAccountRequest, actor audit.Actor) (*ledger.Account, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "account", "open")
	defer span.End()

	account, err := ExecuteWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*ledger.Account, error) {
		account, err := ledger.NewUserAccount(req.OwnerID, req.Type, req.Currency)
		if err != nil {
			return nil, err
		}
		if err := repos.Accounts().Create(ctx, account); err != nil {
			return nil, err
		}
		if err := recordAccountOpened(ctx, repos, account, actor); err != nil {
			return nil, err
		}
		return account, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrAccountID, account.ID.String())
	telemetry.SetOK(span)
	s.logger.Info("account opened",
		zap.String("account_id", account.ID.String()),
		zap.String("code", account.Code))
	return account, nil
}

// EnsurePlatformAccount returns the platform singleton of a type and currency,
// opening it on first use
func (s *AccountService) EnsurePlatformAccount(ctx context.Context, t ledger.AccountType, currency valueobject.Currency) (*ledger.Account, error) {
	return ExecuteWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*ledger.Account, error) {
		return EnsurePlatformAccountIn(ctx, repos, t, currency)
	})
}

// GetAccount returns an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*ledger.Account, error) {
		return repos.Accounts().FindByID(ctx, id)
	})
}

// GetAccountByCode returns an account by its unique code
func (s *AccountService) GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	return ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*ledger.Account, error) {
		return repos.Accounts().FindByCode(ctx, code)
	})
}

type accountPage struct {
	accounts []ledger.Account
	total    int64
}

// ListAccounts lists accounts matching filter with the total count
func (s *AccountService) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, int64, error) {
	page, err := ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (accountPage, error) {
		accounts, total, err := repos.Accounts().FindAll(ctx, filter)
		return accountPage{accounts: accounts, total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return page.accounts, page.total, nil
}

// Freeze blocks ordinary postings to an account
func (s *AccountService) Freeze(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	return s.changeStatus(ctx, id, reason, actor, audit.ActionAccountFrozen, (*ledger.Account).Freeze)
}

// Unfreeze returns a frozen account to active
func (s *AccountService) Unfreeze(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	return s.changeStatus(ctx, id, reason, actor, audit.ActionAccountUnfrozen, (*ledger.Account).Unfreeze)
}

// Suspend takes an account out of service pending review
func (s *AccountService) Suspend(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	return s.changeStatus(ctx, id, reason, actor, audit.ActionAccountSuspended, (*ledger.Account).Suspend)
}

// Reinstate returns a suspended account to active
func (s *AccountService) Reinstate(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	return s.changeStatus(ctx, id, reason, actor, audit.ActionAccountReinstated, (*ledger.Account).Reinstate)
}

// Close permanently closes an account whose balance is zero and which backs no active hold
func (s *AccountService) Close(ctx context.Context, id uuid.UUID, reason string, actor audit.Actor) (*ledger.Account, error) {
	return s.changeStatus(ctx, id, reason, actor, audit.ActionAccountClosed, nil)
}

func (s *AccountService) changeStatus(
	ctx context.Context,
	id uuid.UUID,
	reason string,
	actor audit.Actor,
	action audit.Action,
	transition func(*ledger.Account, string) error,
) (*ledger.Account, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "account", string(action))
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrAccountID, id.String())

	account, err := ExecuteWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*ledger.Account, error) {
		account, err := repos.Accounts().FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		before := *account

		apply := transition
		if apply == nil {
			if err := s.checkClosable(ctx, repos, account); err != nil {
				return nil, err
			}
			apply = (*ledger.Account).Close
		}
		if err := apply(account, reason); err != nil {
			return nil, err
		}
		if err := repos.Accounts().SaveWithLock(ctx, account); err != nil {
			return nil, err
		}

		entry, err := audit.NewEntry(action, actor, ledger.AggregateTypeAccount, account.ID, before, account, reason)
		if err != nil {
			return nil, err
		}
		if err := repos.Audit().Append(ctx, entry); err != nil {
			return nil, err
		}
		if err := repos.Outbox().Append(ctx, account.PullDomainEvents()...); err != nil {
			return nil, err
		}
		return account, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetOK(span)
	s.logger.Info("account status changed",
		zap.String("account_id", account.ID.String()),
		zap.String("status", account.Status.String()),
		zap.String("actor", actor.ID))
	return account, nil
}

func (s *AccountService) checkClosable(ctx context.Context, repos TransactionalRepositories, account *ledger.Account) error {
	head, err := repos.Entries().Head(ctx, account.ID)
	if err != nil {
		return err
	}
	holds, err := repos.Holds().CountActiveByAccount(ctx, account.ID)
	if err != nil {
		return err
	}
	if !head.Balance.IsZero() || holds > 0 {
		return ledger.ErrAccountNotEmpty.
			WithDetail("account_id", account.ID.String()).
			WithDetail("balance", head.Balance.String())
	}
	return nil
}
