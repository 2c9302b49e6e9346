package scheduler

import (
	"context"
	"fmt"
	"time"

	apprecon "github.com/tradeledger/backend/internal/application/reconciliation"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"go.uber.org/zap"
)

// Reconciler runs a reconciliation for one window
type Reconciler interface {
	Reconcile(ctx context.Context, t reconciliation.RunType, w reconciliation.Window, sourceNames []string) (*apprecon.Result, error)
}

// SettlementSweeper settles trades still awaiting settlement
type SettlementSweeper interface {
	SettlePending(ctx context.Context, limit int) (*apptrading.BatchResult, error)
}

// OrderExpirer expires good-till-date orders past their expiry
type OrderExpirer interface {
	ExpireOrders(ctx context.Context, now time.Time, limit int) (int, error)
}

// ExecutorConfig holds executor configuration
type ExecutorConfig struct {
	// Sources are the reconciliation source names used by scheduled runs
	Sources   []string
	BatchSize int
}

// LedgerJobExecutor dispatches jobs to the ledger services. Any of the
// services may be nil, in which case jobs of that kind fail.
type LedgerJobExecutor struct {
	reconciler Reconciler
	settlement SettlementSweeper
	orders     OrderExpirer
	config     ExecutorConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewLedgerJobExecutor creates a new executor
func NewLedgerJobExecutor(reconciler Reconciler, settlement SettlementSweeper, orders OrderExpirer, config ExecutorConfig, logger *zap.Logger) *LedgerJobExecutor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &LedgerJobExecutor{
		reconciler: reconciler,
		settlement: settlement,
		orders:     orders,
		config:     config,
		logger:     logger.Named("job-executor"),
		now:        time.Now,
	}
}

// Execute implements JobExecutor
func (e *LedgerJobExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Kind {
	case JobKindBalanceReconciliation:
		return e.reconcile(ctx, reconciliation.RunTypeBalance, job)
	case JobKindTradeReconciliation:
		return e.reconcile(ctx, reconciliation.RunTypeTrade, job)
	case JobKindSettlementSweep:
		return e.sweepSettlements(ctx)
	case JobKindOrderExpiry:
		return e.expireOrders(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJobKind, job.Kind)
	}
}

func (e *LedgerJobExecutor) reconcile(ctx context.Context, t reconciliation.RunType, job *Job) error {
	if e.reconciler == nil {
		return fmt.Errorf("%w: no reconciler configured", ErrUnknownJobKind)
	}
	if job.Window == nil {
		return fmt.Errorf("%s job has no window", job.Kind)
	}
	result, err := e.reconciler.Reconcile(ctx, t, *job.Window, e.config.Sources)
	if err != nil {
		return fmt.Errorf("reconcile %s %s: %w", t, job.Window, err)
	}
	e.logger.Info("scheduled reconciliation finished",
		zap.String("run_id", result.Run.ID.String()),
		zap.String("type", t.String()),
		zap.String("window", job.Window.String()),
		zap.String("status", string(result.Run.Status)),
		zap.Int("discrepancies", len(result.Run.Discrepancies)),
		zap.Bool("reused", result.Reused))
	return nil
}

func (e *LedgerJobExecutor) sweepSettlements(ctx context.Context) error {
	if e.settlement == nil {
		return fmt.Errorf("%w: no settlement service configured", ErrUnknownJobKind)
	}
	result, err := e.settlement.SettlePending(ctx, e.config.BatchSize)
	if err != nil {
		return fmt.Errorf("settlement sweep: %w", err)
	}
	if result.Settled > 0 || result.Failed > 0 {
		e.logger.Info("settlement sweep finished",
			zap.Int("settled", result.Settled),
			zap.Int("failed", result.Failed))
	}
	return nil
}

func (e *LedgerJobExecutor) expireOrders(ctx context.Context) error {
	if e.orders == nil {
		return fmt.Errorf("%w: no order service configured", ErrUnknownJobKind)
	}
	n, err := e.orders.ExpireOrders(ctx, e.now(), e.config.BatchSize)
	if err != nil {
		return fmt.Errorf("order expiry: %w", err)
	}
	if n > 0 {
		e.logger.Info("orders expired", zap.Int("count", n))
	}
	return nil
}

var _ JobExecutor = (*LedgerJobExecutor)(nil)
