package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"time"

	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/trading"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExecutorConfig bounds the retry loop of GormExecutor
type ExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxJitter  time.Duration
}

// DefaultExecutorConfig returns the default retry settings
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries: 5,
		BaseDelay:  20 * time.Millisecond,
		MaxJitter:  20 * time.Millisecond,
	}
}

// RetryObserver is notified before each retry of a unit of work
type RetryObserver func(ctx context.Context, attempt int, err error)

// ExecutorOption configures a GormExecutor
type ExecutorOption func(*GormExecutor)

// WithExecutorConfig sets the retry bounds
func WithExecutorConfig(cfg ExecutorConfig) ExecutorOption {
	return func(e *GormExecutor) {
		e.config = cfg
	}
}

// WithExecutorLogger sets the logger
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *GormExecutor) {
		e.logger = logger
	}
}

// WithRetryObserver registers a callback invoked on every retry
func WithRetryObserver(observer RetryObserver) ExecutorOption {
	return func(e *GormExecutor) {
		e.onRetry = observer
	}
}

// WithEventSerializer sets the serializer used by the in-transaction outbox writer
func WithEventSerializer(serializer EventSerializer) ExecutorOption {
	return func(e *GormExecutor) {
		e.serializer = serializer
	}
}

// GormExecutor runs units of work in serializable transactions and retries
// the whole callback on serialization failures, deadlocks and version conflicts.
type GormExecutor struct {
	db         *gorm.DB
	config     ExecutorConfig
	logger     *zap.Logger
	onRetry    RetryObserver
	serializer EventSerializer
}

// NewGormExecutor creates a new GormExecutor
func NewGormExecutor(db *gorm.DB, opts ...ExecutorOption) *GormExecutor {
	e := &GormExecutor{
		db:     db,
		config: DefaultExecutorConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs fn in a serializable transaction, retrying on conflicts.
// If fn returns an error, the transaction is rolled back.
func (e *GormExecutor) Execute(ctx context.Context, fn func(repos appledger.TransactionalRepositories) error) error {
	return e.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

// ExecuteReadOnly runs fn in a read-only repeatable-read transaction
func (e *GormExecutor) ExecuteReadOnly(ctx context.Context, fn func(repos appledger.TransactionalRepositories) error) error {
	return e.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (e *GormExecutor) run(ctx context.Context, opts *sql.TxOptions, fn func(repos appledger.TransactionalRepositories) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormTransactionalRepositories{tx: tx, serializer: e.serializer})
		}, opts)
		if err == nil {
			return nil
		}

		switch ClassifyError(err) {
		case ErrorClassTimeout:
			return fmt.Errorf("%w: %w", shared.ErrStoreTimeout, err)
		case ErrorClassFatal:
			return err
		}

		if attempt >= e.config.MaxRetries {
			e.logger.Warn("unit of work retries exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return &retriesExhaustedError{attempts: attempt + 1, last: err}
		}

		e.logger.Debug("retrying unit of work",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if e.onRetry != nil {
			e.onRetry(ctx, attempt+1, err)
		}
		if sleepErr := e.sleep(ctx, attempt); sleepErr != nil {
			return sleepErr
		}
	}
}

// sleep waits BaseDelay*2^attempt plus up to MaxJitter, or until ctx is done
func (e *GormExecutor) sleep(ctx context.Context, attempt int) error {
	delay := e.config.BaseDelay << attempt
	if e.config.MaxJitter > 0 {
		delay += time.Duration(rand.Int64N(int64(e.config.MaxJitter)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx         *gorm.DB
	serializer EventSerializer
}

// Accounts returns the account repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Accounts() ledger.AccountRepository {
	return NewGormAccountRepository(r.tx)
}

// Transactions returns the ledger transaction repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Transactions() ledger.TransactionRepository {
	return NewGormLedgerTransactionRepository(r.tx)
}

// Entries returns the entry chain reader scoped to the current transaction.
func (r *gormTransactionalRepositories) Entries() ledger.EntryRepository {
	return NewGormLedgerEntryRepository(r.tx)
}

// Holds returns the escrow hold repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Holds() ledger.HoldRepository {
	return NewGormEscrowHoldRepository(r.tx)
}

// IdempotencyKeys returns the idempotency key repository scoped to the current transaction.
func (r *gormTransactionalRepositories) IdempotencyKeys() ledger.IdempotencyRepository {
	return NewGormIdempotencyKeyRepository(r.tx)
}

// Orders returns the order repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Orders() trading.OrderRepository {
	return NewGormOrderRepository(r.tx)
}

// Trades returns the trade repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Trades() trading.TradeRepository {
	return NewGormTradeRepository(r.tx)
}

// Settlements returns the settlement repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Settlements() trading.SettlementRepository {
	return NewGormSettlementRepository(r.tx)
}

// Runs returns the reconciliation run repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Runs() reconciliation.RunRepository {
	return NewGormReconciliationRunRepository(r.tx)
}

// Audit returns the audit repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Audit() audit.Repository {
	return NewGormAuditRepository(r.tx)
}

// Outbox returns the outbox writer scoped to the current transaction.
func (r *gormTransactionalRepositories) Outbox() shared.OutboxWriter {
	return NewGormOutboxWriter(r.tx, r.serializer)
}

// Ensure GormExecutor implements TransactionScope
var _ appledger.TransactionScope = (*GormExecutor)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appledger.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
