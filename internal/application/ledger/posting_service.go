package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// PostingResult is the outcome of a posting. Replayed is true when an earlier
// request with the same idempotency key produced the transaction.
type PostingResult struct {
	Transaction *ledger.LedgerTransaction
	Hold        *ledger.EscrowHold
	Replayed    bool
}

// ExternalMovementRequest moves value between a user wallet and the external
// deposit or withdrawal conduit of its currency
type ExternalMovementRequest struct {
	WalletAccountID uuid.UUID
	Amount          decimal.Decimal
	IdempotencyKey  string
	Reference       *ledger.Reference
	Description     string
}

// TransferRequest moves value between two accounts of the same currency
type TransferRequest struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	Reference      *ledger.Reference
	Description    string
}

// LockEscrowRequest moves value from a wallet into the owner's escrow account
type LockEscrowRequest struct {
	WalletAccountID uuid.UUID
	Amount          decimal.Decimal
	Reference       *ledger.Reference
	IdempotencyKey  string
	Description     string
}

// ReleaseEscrowRequest returns escrowed value to the wallet. A zero Amount
// releases everything that remains on the hold.
type ReleaseEscrowRequest struct {
	HoldID         uuid.UUID
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// posting describes one money movement. build runs inside every attempt of
// the unit of work; check runs after the idempotency guard and before the
// engine; after runs once the transaction is written.
type posting struct {
	name   string
	action audit.Action
	reason string
	build  func(ctx context.Context, repos TransactionalRepositories) (ledger.PostingParams, error)
	check  func(ctx context.Context, repos TransactionalRepositories, params ledger.PostingParams) error
	after  func(ctx context.Context, repos TransactionalRepositories, result *PostingResult) error
	replay func(ctx context.Context, repos TransactionalRepositories, result *PostingResult) error
}

// PostingService is the single entry point for money movement. Every posting
// runs the idempotency guard and the engine in one serializable unit of work,
// together with its audit entry and outbox events.
type PostingService struct {
	scope     TransactionScope
	engine    *Engine
	guard     *IdempotencyGuard
	snapshots ledger.SnapshotStore
	publisher shared.EventPublisher
	metrics   *telemetry.LedgerMetrics
	logger    *zap.Logger
}

// NewPostingService creates a new PostingService. snapshots, publisher and
// metrics may be nil.
func NewPostingService(
	scope TransactionScope,
	snapshots ledger.SnapshotStore,
	publisher shared.EventPublisher,
	metrics *telemetry.LedgerMetrics,
	logger *zap.Logger,
) *PostingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostingService{
		scope:     scope,
		engine:    NewEngine(),
		guard:     NewIdempotencyGuard(),
		snapshots: snapshots,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Post validates and commits an arbitrary balanced posting
func (s *PostingService) Post(ctx context.Context, params ledger.PostingParams, actor audit.Actor) (*PostingResult, error) {
	return s.execute(ctx, actor, posting{
		name:   "post",
		action: audit.ActionTransactionPosted,
		build: func(context.Context, TransactionalRepositories) (ledger.PostingParams, error) {
			return params, nil
		},
	})
}

// Deposit credits a user wallet from the external deposit conduit
func (s *PostingService) Deposit(ctx context.Context, req ExternalMovementRequest, actor audit.Actor) (*PostingResult, error) {
	return s.execute(ctx, actor, posting{
		name:   "deposit",
		action: audit.ActionTransactionPosted,
		build: func(ctx context.Context, repos TransactionalRepositories) (ledger.PostingParams, error) {
			wallet, err := loadWallet(ctx, repos, req.WalletAccountID)
			if err != nil {
				return ledger.PostingParams{}, err
			}
			conduit, err := EnsurePlatformAccountIn(ctx, repos, ledger.AccountTypeExternalDeposit, wallet.Currency)
			if err != nil {
				return ledger.PostingParams{}, err
			}
			return twoLeg(ledger.TransactionTypeDeposit, conduit.ID, wallet.ID, wallet, req.Amount, req.IdempotencyKey, req.Reference, req.Description), nil
		},
	})
}

// Withdraw debits a user wallet to the external withdrawal conduit. The
// wallet balance is read inside the unit of work, never from the snapshot cache.
func (s *PostingService) Withdraw(ctx context.Context, req ExternalMovementRequest, actor audit.Actor) (*PostingResult, error) {
	return s.execute(ctx, actor, posting{
		name:   "withdraw",
		action: audit.ActionTransactionPosted,
		build: func(ctx context.Context, repos TransactionalRepositories) (ledger.PostingParams, error) {
			wallet, err := loadWallet(ctx, repos, req.WalletAccountID)
			if err != nil {
				return ledger.PostingParams{}, err
			}
			conduit, err := EnsurePlatformAccountIn(ctx, repos, ledger.AccountTypeExternalWithdrawal, wallet.Currency)
			if err != nil {
				return ledger.PostingParams{}, err
			}
			return twoLeg(ledger.TransactionTypeWithdrawal, wallet.ID, conduit.ID, wallet, req.Amount, req.IdempotencyKey, req.Reference, req.Description), nil
		},
		check: func(ctx context.Context, repos TransactionalRepositories, params ledger.PostingParams) error {
			balance, err := BalanceForUpdate(ctx, repos, req.WalletAccountID)
			if err != nil {
				return err
			}
			if balance.Available.LessThan(params.Amount) {
				return ledger.ErrInsufficientBalance.
					WithDetail("account_id", req.WalletAccountID.String()).
					WithDetail("available", balance.Available.String()).
					WithDetail("required", params.Amount.String())
			}
			return nil
		},
	})
}

// Transfer moves value between two accounts
func (s *PostingService) Transfer(ctx context.Context, req TransferRequest, actor audit.Actor) (*PostingResult, error) {
	return s.execute(ctx, actor, posting{
		name:   "transfer",
		action: audit.ActionTransactionPosted,
		build: func(ctx context.Context, repos TransactionalRepositories) (ledger.PostingParams, error) {
			from, err := repos.Accounts().FindByID(ctx, req.FromAccountID)
			if err != nil {
				return ledger.PostingParams{}, err
			}
			return twoLeg(ledger.TransactionTypeTransfer, from.ID, req.ToAccountID, from, req.Amount, req.IdempotencyKey, req.Reference, req.Description), nil
		},
	})
}

// LockEscrow posts ESCROW_LOCK from the wallet to the owner's escrow account
// and opens an ACTIVE hold for the locked amount
func (s *PostingService) LockEscrow(ctx context.Context, req LockEscrowRequest, actor audit.Actor) (*PostingResult, error) {
	return s.execute(ctx, actor, lockPosting(req))
}

// LockInScope locks escrow inside the caller's unit of work
func (s *PostingService) LockInScope(ctx context.Context, repos TransactionalRepositories, req LockEscrowRequest, actor audit.Actor) (*PostingResult, error) {
	p := lockPosting(req)
	params, err := prepare(ctx, repos, p, uuid.New(), actor)
	if err != nil {
		return nil, err
	}
	return s.postInScope(ctx, repos, p, params, actor)
}

func lockPosting(req LockEscrowRequest) posting {
	var wallet, escrow *ledger.Account
	return posting{
		name:   "lock_escrow",
		action: audit.ActionTransactionPosted,
		build: func(ctx context.Context, repos TransactionalRepositories) (ledger.PostingParams, error) {
			var err error
			if wallet, err = loadWallet(ctx, repos, req.WalletAccountID); err != nil {
				return ledger.PostingParams{}, err
			}
			if escrow, err = EnsureUserAccountIn(ctx, repos, *wallet.OwnerID, ledger.AccountTypeUserEscrow, wallet.Currency); err != nil {
				return ledger.PostingParams{}, err
			}
			return twoLeg(ledger.TransactionTypeEscrowLock, wallet.ID, escrow.ID, wallet, req.Amount, req.IdempotencyKey, req.Reference, req.Description), nil
		},
		after: func(ctx context.Context, repos TransactionalRepositories, result *PostingResult) error {
			hold, err := ledger.NewEscrowHold(wallet, escrow, req.Amount, req.Reference, result.Transaction.ID)
			if err != nil {
				return err
			}
			if err := repos.Holds().Create(ctx, hold); err != nil {
				return fmt.Errorf("failed to create escrow hold: %w", err)
			}
			result.Hold = hold
			return nil
		},
		replay: func(ctx context.Context, repos TransactionalRepositories, result *PostingResult) error {
			if req.Reference == nil {
				return nil
			}
			hold, err := repos.Holds().FindActiveByReference(ctx, *req.Reference)
			if err != nil && !errors.Is(err, ledger.ErrHoldNotFound) {
				return err
			}
			result.Hold = hold
			return nil
		},
	}
}

// ReleaseEscrow posts ESCROW_RELEASE from escrow back to the wallet and
// reduces or closes the hold
func (s *PostingService) ReleaseEscrow(ctx context.Context, req ReleaseEscrowRequest, actor audit.Actor) (*PostingResult, error) {
	var hold *ledger.EscrowHold
	return s.execute(ctx, actor, posting{
		name:   "release_escrow",
		action: audit.ActionTransactionPosted,
		reason: req.Reason,
		build: func(ctx context.Context, repos TransactionalRepositories) (ledger.PostingParams, error) {
			var err error
			if hold, err = repos.Holds().FindByID(ctx, req.HoldID); err != nil {
				return ledger.PostingParams{}, err
			}
			return releaseParams(hold, req.Amount, req.Reason, req.IdempotencyKey)
		},
		after: func(ctx context.Context, repos TransactionalRepositories, result *PostingResult) error {
			if err := applyRelease(hold, result.Transaction.Amount); err != nil {
				return err
			}
			if err := repos.Holds().SaveWithLock(ctx, hold); err != nil {
				return err
			}
			result.Hold = hold
			return nil
		},
	})
}

// Reverse posts a REVERSAL that flips every entry of a committed transaction
// and marks the original REVERSED. Repeating a reversal returns the first one.
func (s *PostingService) Reverse(ctx context.Context, txID uuid.UUID, reason string, actor audit.Actor) (*PostingResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ledger.ErrReasonRequired
	}

	var original *ledger.LedgerTransaction
	return s.execute(ctx, actor, posting{
		name:   "reverse",
		action: audit.ActionTransactionReversed,
		reason: reason,
		build: func(ctx context.Context, repos TransactionalRepositories) (ledger.PostingParams, error) {
			var err error
			if original, err = repos.Transactions().FindByID(ctx, txID); err != nil {
				return ledger.PostingParams{}, err
			}
			// An already reversed original is left to the idempotency guard
			if original.Status != ledger.TransactionStatusReversed {
				if err := original.CheckReversible(); err != nil {
					return ledger.PostingParams{}, err
				}
			}
			return ledger.PostingParams{
				Type:           ledger.TransactionTypeReversal,
				Description:    "Reversal of " + original.ID.String(),
				Currency:       original.Currency,
				Amount:         original.Amount,
				IdempotencyKey: "reversal:" + original.ID.String(),
				Reference:      &ledger.Reference{Type: ledger.ReferenceTransaction, ID: original.ID},
				Metadata:       map[string]string{"reason": reason},
				ReversesID:     &original.ID,
				Entries:        original.ReversalEntries(),
			}, nil
		},
		after: func(ctx context.Context, repos TransactionalRepositories, result *PostingResult) error {
			if err := original.MarkReversed(result.Transaction.ID); err != nil {
				return err
			}
			if err := repos.Transactions().MarkReversed(ctx, original); err != nil {
				return err
			}
			return repos.Outbox().Append(ctx, original.PullDomainEvents()...)
		},
	})
}

// Adjust posts an administrative ADJUSTMENT. Adjustments may touch reserve
// accounts and frozen accounts and always carry a reason.
func (s *PostingService) Adjust(ctx context.Context, params ledger.PostingParams, reason string, actor audit.Actor) (*PostingResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ledger.ErrReasonRequired
	}
	params.Type = ledger.TransactionTypeAdjustment
	if params.Metadata == nil {
		params.Metadata = map[string]string{}
	}
	params.Metadata["reason"] = reason

	return s.execute(ctx, actor, posting{
		name:   "adjust",
		action: audit.ActionAdjustmentPosted,
		reason: reason,
		build: func(context.Context, TransactionalRepositories) (ledger.PostingParams, error) {
			return params, nil
		},
	})
}

// PostInScope runs a posting inside a unit of work owned by the caller, for
// workflows that must commit other state changes atomically with it.
// Snapshot invalidation is left to the caller once the unit of work commits.
func (s *PostingService) PostInScope(ctx context.Context, repos TransactionalRepositories, params ledger.PostingParams, action audit.Action, reason string, actor audit.Actor) (*PostingResult, error) {
	if params.TransactionID == uuid.Nil {
		params.TransactionID = uuid.New()
	}
	if params.InitiatorID == "" {
		params.InitiatorID = actor.ID
	}
	return s.postInScope(ctx, repos, posting{action: action, reason: reason}, params, actor)
}

// ReleaseInScope releases amount of an escrow hold inside the caller's unit of
// work. A zero amount releases everything that remains.
func (s *PostingService) ReleaseInScope(ctx context.Context, repos TransactionalRepositories, hold *ledger.EscrowHold, amount decimal.Decimal, reason string, actor audit.Actor) (*PostingResult, error) {
	params, err := releaseParams(hold, amount, reason, "")
	if err != nil {
		return nil, err
	}
	params.TransactionID = uuid.New()
	params.InitiatorID = actor.ID
	return s.postInScope(ctx, repos, posting{
		action: audit.ActionTransactionPosted,
		reason: reason,
		after: func(ctx context.Context, repos TransactionalRepositories, result *PostingResult) error {
			if err := applyRelease(hold, result.Transaction.Amount); err != nil {
				return err
			}
			result.Hold = hold
			return repos.Holds().SaveWithLock(ctx, hold)
		},
	}, params, actor)
}

// InvalidateSnapshots drops cached balance snapshots of accounts touched by a
// committed unit of work
func (s *PostingService) InvalidateSnapshots(ctx context.Context, accountIDs ...uuid.UUID) {
	if s.snapshots == nil || len(accountIDs) == 0 {
		return
	}
	if err := s.snapshots.Invalidate(ctx, accountIDs...); err != nil {
		s.logger.Warn("failed to invalidate balance snapshots",
			zap.Int("accounts", len(accountIDs)),
			zap.Error(err))
	}
}

func (s *PostingService) execute(ctx context.Context, actor audit.Actor, p posting) (*PostingResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "posting", p.name)
	defer span.End()

	start := time.Now()
	txID := uuid.New()

	var (
		params ledger.PostingParams
		result *PostingResult
		err    error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels(telemetry.OperationPostTransaction, ""), func(c context.Context) {
		result, err = ExecuteWithResult(c, s.scope, func(repos TransactionalRepositories) (*PostingResult, error) {
			built, err := prepare(c, repos, p, txID, actor)
			if err != nil {
				return nil, err
			}
			params = built
			return s.postInScope(c, repos, p, built, actor)
		})

		// The competing writer has committed by now, so its outcome is ours
		if errors.Is(err, ledger.ErrIdempotencyConflict) && params.IdempotencyKey != "" {
			result, err = s.replay(c, p, params)
		}
	})

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTransactionType, params.Type.String(),
		telemetry.SpanAttrAmount, params.Amount.String(),
	)
	if err != nil {
		telemetry.RecordError(span, err)
		s.recordFailure(ctx, params, err, time.Since(start))
		return nil, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrTransactionID, result.Transaction.ID.String())
	telemetry.SetOK(span)

	outcome := telemetry.PostingOutcomeCommitted
	if result.Replayed {
		outcome = telemetry.PostingOutcomeReplayed
	} else {
		s.InvalidateSnapshots(ctx, result.Transaction.AccountIDs()...)
		s.logger.Info("transaction posted",
			zap.String("transaction_id", result.Transaction.ID.String()),
			zap.String("type", result.Transaction.Type.String()),
			zap.String("amount", result.Transaction.Amount.String()),
			zap.String("currency", result.Transaction.Currency.String()))
	}
	s.metrics.RecordPosting(ctx, result.Transaction.Type.String(), outcome, time.Since(start))
	return result, nil
}

// prepare builds the params of p and fills in the transaction ID and initiator
func prepare(ctx context.Context, repos TransactionalRepositories, p posting, txID uuid.UUID, actor audit.Actor) (ledger.PostingParams, error) {
	params, err := p.build(ctx, repos)
	if err != nil {
		return ledger.PostingParams{}, err
	}
	if params.TransactionID == uuid.Nil {
		params.TransactionID = txID
	}
	if params.InitiatorID == "" {
		params.InitiatorID = actor.ID
	}
	return params, nil
}

func (s *PostingService) postInScope(ctx context.Context, repos TransactionalRepositories, p posting, params ledger.PostingParams, actor audit.Actor) (*PostingResult, error) {
	if params.IdempotencyKey != "" {
		resolution, err := s.guard.Resolve(ctx, repos, params.IdempotencyKey, ledger.Fingerprint(params), params.TransactionID)
		if err != nil {
			return nil, err
		}
		if resolution.IsCached() {
			return s.cachedResult(ctx, repos, p, resolution.Cached)
		}
	}

	if p.check != nil {
		if err := p.check(ctx, repos, params); err != nil {
			return nil, err
		}
	}

	txn, err := s.engine.PostTransaction(ctx, repos, params)
	if err != nil {
		return nil, err
	}
	result := &PostingResult{Transaction: txn}
	if p.after != nil {
		if err := p.after(ctx, repos, result); err != nil {
			return nil, err
		}
	}

	entry, err := audit.NewEntry(p.action, actor, ledger.AggregateTypeTransaction, txn.ID, nil, txn, p.reason)
	if err != nil {
		return nil, err
	}
	if err := repos.Audit().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := repos.Outbox().Append(ctx, txn.PullDomainEvents()...); err != nil {
		return nil, fmt.Errorf("failed to write outbox events: %w", err)
	}
	return result, nil
}

func (s *PostingService) replay(ctx context.Context, p posting, params ledger.PostingParams) (*PostingResult, error) {
	return ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (*PostingResult, error) {
		resolution, err := s.guard.Lookup(ctx, repos, params.IdempotencyKey, ledger.Fingerprint(params))
		if err != nil {
			return nil, err
		}
		return s.cachedResult(ctx, repos, p, resolution.Cached)
	})
}

func (s *PostingService) cachedResult(ctx context.Context, repos TransactionalRepositories, p posting, txn *ledger.LedgerTransaction) (*PostingResult, error) {
	result := &PostingResult{Transaction: txn, Replayed: true}
	if p.replay != nil {
		if err := p.replay(ctx, repos, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// recordFailure counts the failure and announces rejected postings on the
// in-process bus. Nothing about a failed posting is persisted.
func (s *PostingService) recordFailure(ctx context.Context, params ledger.PostingParams, err error, elapsed time.Duration) {
	kind := shared.KindOf(err)
	outcome := telemetry.PostingOutcomeFailed
	if kind != shared.ErrorKindInfrastructure && kind != shared.ErrorKindConcurrency {
		outcome = telemetry.PostingOutcomeRejected
	}
	s.metrics.RecordPosting(ctx, params.Type.String(), outcome, elapsed)

	s.logger.Warn("posting failed",
		zap.String("transaction_id", params.TransactionID.String()),
		zap.String("type", params.Type.String()),
		zap.String("kind", string(kind)),
		zap.Error(err))

	if kind != shared.ErrorKindValidation || params.Type == "" || s.publisher == nil {
		return
	}
	reason := err.Error()
	if de, ok := shared.AsDomainError(err); ok {
		reason = de.Code
	}
	failed := ledger.NewFailedTransaction(params, reason)
	if pubErr := s.publisher.Publish(ctx, failed.PullDomainEvents()...); pubErr != nil {
		s.logger.Warn("failed to publish transaction failure", zap.Error(pubErr))
	}
}

func loadWallet(ctx context.Context, repos TransactionalRepositories, id uuid.UUID) (*ledger.Account, error) {
	wallet, err := repos.Accounts().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wallet.Type != ledger.AccountTypeUserWallet {
		return nil, ledger.ErrInvalidAccountType.
			WithDetail("account_id", id.String()).
			WithDetail("type", wallet.Type.String())
	}
	return wallet, nil
}

// twoLeg builds a posting that debits one account and credits another in
// the currency of ref
func twoLeg(t ledger.TransactionType, debit, credit uuid.UUID, ref *ledger.Account, amount decimal.Decimal, key string, reference *ledger.Reference, description string) ledger.PostingParams {
	return ledger.PostingParams{
		Type:           t,
		Description:    description,
		Currency:       ref.Currency,
		Amount:         amount,
		IdempotencyKey: key,
		Reference:      reference,
		Entries: []ledger.EntrySpec{
			{AccountID: debit, EntryType: ledger.EntryTypeDebit, Amount: amount, Description: description},
			{AccountID: credit, EntryType: ledger.EntryTypeCredit, Amount: amount, Description: description},
		},
	}
}

func releaseParams(hold *ledger.EscrowHold, amount decimal.Decimal, reason, key string) (ledger.PostingParams, error) {
	if !hold.IsActive() {
		return ledger.PostingParams{}, ledger.ErrHoldNotActive.
			WithDetail("hold_id", hold.ID.String()).
			WithDetail("status", hold.Status.String())
	}
	if amount.IsZero() {
		amount = hold.Remaining
	}
	if amount.GreaterThan(hold.Remaining) {
		return ledger.PostingParams{}, ledger.ErrHoldExceeded.
			WithDetail("hold_id", hold.ID.String()).
			WithDetail("remaining", hold.Remaining.String())
	}
	params := twoLeg(ledger.TransactionTypeEscrowRelease, hold.EscrowAccountID, hold.WalletAccountID,
		&ledger.Account{Currency: hold.Currency}, amount, key, hold.Reference, reason)
	params.Metadata = map[string]string{"hold_id": hold.ID.String()}
	return params, nil
}

func applyRelease(hold *ledger.EscrowHold, amount decimal.Decimal) error {
	if amount.Equal(hold.Remaining) {
		_, err := hold.Release()
		return err
	}
	return hold.ReleasePartial(amount)
}
