package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// BalanceServiceConfig tunes snapshot use by balance reads
type BalanceServiceConfig struct {
	// SnapshotMaxAge bounds how old a cached snapshot may be before it is ignored
	SnapshotMaxAge time.Duration
	// PageSize is the number of entries read per page when rolling forward
	PageSize int
}

// DefaultBalanceServiceConfig returns the default balance read settings
func DefaultBalanceServiceConfig() BalanceServiceConfig {
	return BalanceServiceConfig{
		SnapshotMaxAge: 5 * time.Minute,
		PageSize:       500,
	}
}

// ChainReport summarizes a full walk of an account's entry chain
type ChainReport struct {
	AccountID uuid.UUID          `json:"account_id"`
	Entries   int64              `json:"entries"`
	Head      ledger.AccountHead `json:"head"`
	Valid     bool               `json:"valid"`
	Error     string             `json:"error,omitempty"`
}

type balanceRead struct {
	view ledger.BalanceView
	head ledger.AccountHead
}

// BalanceService answers balance queries. Balances are derived from the
// entry chain; a cached snapshot is only a starting point for the roll-forward.
type BalanceService struct {
	scope     TransactionScope
	snapshots ledger.SnapshotStore
	config    BalanceServiceConfig
	logger    *zap.Logger
}

// NewBalanceService creates a new BalanceService. snapshots may be nil.
func NewBalanceService(scope TransactionScope, snapshots ledger.SnapshotStore, config BalanceServiceConfig, logger *zap.Logger) *BalanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultBalanceServiceConfig().PageSize
	}
	return &BalanceService{
		scope:     scope,
		snapshots: snapshots,
		config:    config,
		logger:    logger,
	}
}

// GetBalance returns the available, held and total balance of an account
func (s *BalanceService) GetBalance(ctx context.Context, accountID uuid.UUID) (ledger.BalanceView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "balance", "get")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrAccountID, accountID.String())

	var snapshot *ledger.BalanceSnapshot
	if s.snapshots != nil {
		cached, err := s.snapshots.Get(ctx, accountID)
		if err != nil {
			s.logger.Warn("failed to read balance snapshot",
				zap.String("account_id", accountID.String()),
				zap.Error(err))
		} else if cached != nil && cached.IsFresh(s.config.SnapshotMaxAge, time.Now()) {
			snapshot = cached
		}
	}

	read, err := ReadWithResult(ctx, s.scope, func(repos TransactionalRepositories) (balanceRead, error) {
		account, err := repos.Accounts().FindByID(ctx, accountID)
		if err != nil {
			return balanceRead{}, err
		}
		head, err := s.head(ctx, repos, accountID, snapshot)
		if err != nil {
			return balanceRead{}, err
		}
		held, err := repos.Holds().SumActiveByWallet(ctx, accountID)
		if err != nil {
			return balanceRead{}, fmt.Errorf("failed to sum active holds: %w", err)
		}
		return balanceRead{view: ledger.NewBalanceView(account, head, held), head: head}, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return ledger.BalanceView{}, err
	}
	head := read.head

	if s.snapshots != nil && (snapshot == nil || snapshot.Sequence != head.Sequence) {
		fresh := ledger.BalanceSnapshot{
			AccountID:  accountID,
			Balance:    head.Balance,
			Sequence:   head.Sequence,
			ComputedAt: time.Now().UTC(),
		}
		if err := s.snapshots.Put(ctx, fresh); err != nil {
			s.logger.Warn("failed to cache balance snapshot",
				zap.String("account_id", accountID.String()),
				zap.Error(err))
		}
	}

	telemetry.SetOK(span)
	return read.view, nil
}

// GetBalanceForUpdate reads the balance inside the caller's unit of work,
// bypassing the snapshot cache
func (s *BalanceService) GetBalanceForUpdate(ctx context.Context, repos TransactionalRepositories, accountID uuid.UUID) (ledger.BalanceView, error) {
	return BalanceForUpdate(ctx, repos, accountID)
}

// BalanceForUpdate reads the latest committed balance of an account inside a
// unit of work. The serializable transaction turns a concurrent change of the
// same account into a retry.
func BalanceForUpdate(ctx context.Context, repos TransactionalRepositories, accountID uuid.UUID) (ledger.BalanceView, error) {
	account, err := repos.Accounts().FindByID(ctx, accountID)
	if err != nil {
		return ledger.BalanceView{}, err
	}
	head, err := repos.Entries().Head(ctx, accountID)
	if err != nil {
		return ledger.BalanceView{}, fmt.Errorf("failed to read account head: %w", err)
	}
	held, err := repos.Holds().SumActiveByWallet(ctx, accountID)
	if err != nil {
		return ledger.BalanceView{}, fmt.Errorf("failed to sum active holds: %w", err)
	}
	return ledger.NewBalanceView(account, head, held), nil
}

// VerifyChain walks every entry of an account and checks that sequences are
// contiguous and each balance-after follows from its predecessor
func (s *BalanceService) VerifyChain(ctx context.Context, accountID uuid.UUID) (*ChainReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "balance", "verify_chain")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrAccountID, accountID.String())

	var (
		report *ChainReport
		err    error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels(telemetry.OperationVerifyChain, ""), func(c context.Context) {
		report, err = ReadWithResult(c, s.scope, func(repos TransactionalRepositories) (*ChainReport, error) {
			if _, err := repos.Accounts().FindByID(c, accountID); err != nil {
				return nil, err
			}
			return s.walk(c, repos, accountID)
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if !report.Valid {
		s.logger.Error("entry chain broken",
			zap.String("account_id", accountID.String()),
			zap.Int64("sequence", report.Head.Sequence),
			zap.String("error", report.Error))
	}
	telemetry.SetOK(span)
	return report, nil
}

func (s *BalanceService) walk(ctx context.Context, repos TransactionalRepositories, accountID uuid.UUID) (*ChainReport, error) {
	r := &ChainReport{AccountID: accountID, Head: ledger.AccountHead{AccountID: accountID}}
	for {
		page, err := repos.Entries().ListAfter(ctx, accountID, r.Head.Sequence, s.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}
		next, err := ledger.VerifyChain(r.Head, page)
		r.Head = next
		if err != nil {
			r.Error = err.Error()
			return r, nil
		}
		r.Entries += int64(len(page))
		if len(page) < s.config.PageSize {
			r.Valid = true
			return r, nil
		}
	}
}

// head returns the account position, rolling a snapshot forward when one is
// available and falling back to the stored head when the roll-forward fails
func (s *BalanceService) head(ctx context.Context, repos TransactionalRepositories, accountID uuid.UUID, snapshot *ledger.BalanceSnapshot) (ledger.AccountHead, error) {
	if snapshot == nil {
		return repos.Entries().Head(ctx, accountID)
	}

	head := snapshot.Head()
	for {
		page, err := repos.Entries().ListAfter(ctx, accountID, head.Sequence, s.config.PageSize)
		if err != nil {
			return ledger.AccountHead{}, fmt.Errorf("failed to list entries: %w", err)
		}
		next, err := ledger.VerifyChain(head, page)
		if err != nil {
			s.logger.Warn("balance snapshot does not match entries",
				zap.String("account_id", accountID.String()),
				zap.Int64("snapshot_sequence", snapshot.Sequence),
				zap.Error(err))
			return repos.Entries().Head(ctx, accountID)
		}
		head = next
		if len(page) < s.config.PageSize {
			return head, nil
		}
	}
}
