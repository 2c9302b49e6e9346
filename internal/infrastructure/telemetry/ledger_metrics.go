package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// LedgerMetrics tracks money movement, unit-of-work retries, settlement
// outcomes and reconciliation findings.
// A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	postingsTotal      *Counter
	retriesTotal       *Counter
	settlementsTotal   *Counter
	discrepanciesTotal *Counter

	// Latency of a posting unit of work including retries
	postingDuration *Histogram

	// Gauge metrics (point-in-time values)
	outboxBacklog *Gauge
	activeHolds   *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	stateProvider LedgerStateProvider
}

// LedgerStateProvider provides store-wide counts for periodic gauge collection.
// This interface lets the telemetry layer read ledger state without
// depending on the ledger domain directly.
type LedgerStateProvider interface {
	// PendingOutboxCount returns outbox entries not yet delivered
	PendingOutboxCount(ctx context.Context) (int64, error)

	// ActiveHoldCount returns escrow holds still locking funds
	ActiveHoldCount(ctx context.Context) (int64, error)
}

// LedgerMetricsConfig holds configuration for ledger metrics.
type LedgerMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	StateProvider LedgerStateProvider
}

// NewLedgerMetrics creates a new LedgerMetrics instance.
func NewLedgerMetrics(cfg LedgerMetricsConfig) (*LedgerMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lm := &LedgerMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		stateProvider: cfg.StateProvider,
	}

	var err error

	lm.postingsTotal, err = NewCounter(
		cfg.Meter,
		"ledger.postings",
		"Total number of posting attempts by transaction type and outcome",
		"{postings}",
	)
	if err != nil {
		return nil, err
	}

	lm.retriesTotal, err = NewCounter(
		cfg.Meter,
		"ledger.executor.retries",
		"Total number of unit-of-work retries after serialization conflicts",
		"{retries}",
	)
	if err != nil {
		return nil, err
	}

	lm.settlementsTotal, err = NewCounter(
		cfg.Meter,
		"ledger.settlements",
		"Total number of settlement attempts by outcome",
		"{settlements}",
	)
	if err != nil {
		return nil, err
	}

	lm.discrepanciesTotal, err = NewCounter(
		cfg.Meter,
		"ledger.reconciliation.discrepancies",
		"Total number of reconciliation discrepancies by run type and resolution",
		"{discrepancies}",
	)
	if err != nil {
		return nil, err
	}

	lm.postingDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "ledger.posting.duration",
		Description: "Duration of posting units of work including retries",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	lm.outboxBacklog, err = NewGauge(
		cfg.Meter,
		"ledger.outbox.backlog",
		"Outbox entries waiting for delivery",
		"{entries}",
	)
	if err != nil {
		return nil, err
	}

	lm.activeHolds, err = NewGauge(
		cfg.Meter,
		"ledger.escrow.active_holds",
		"Escrow holds still locking funds",
		"{holds}",
	)
	if err != nil {
		return nil, err
	}

	return lm, nil
}

// =============================================================================
// Posting Metrics
// =============================================================================

// PostingOutcome labels the result of a posting attempt.
type PostingOutcome string

const (
	PostingOutcomeCommitted PostingOutcome = "committed"
	PostingOutcomeReplayed  PostingOutcome = "replayed"
	PostingOutcomeRejected  PostingOutcome = "rejected"
	PostingOutcomeFailed    PostingOutcome = "failed"
)

// RecordPosting records one posting attempt and its latency.
func (lm *LedgerMetrics) RecordPosting(ctx context.Context, txType string, outcome PostingOutcome, d time.Duration) {
	if lm == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrTransactionType.String(txType),
		AttrOutcome.String(string(outcome)),
	}
	lm.postingsTotal.Inc(ctx, attrs...)
	lm.postingDuration.RecordDuration(ctx, d, attrs...)
}

// RecordRetry records a retried unit of work. Its signature matches the
// executor's retry observer.
func (lm *LedgerMetrics) RecordRetry(ctx context.Context, attempt int, _ error) {
	if lm == nil {
		return
	}
	lm.retriesTotal.Inc(ctx, AttrAttempt.Int(attempt))
}

// =============================================================================
// Settlement and Reconciliation Metrics
// =============================================================================

// RecordSettlement records a settlement attempt outcome, e.g. "completed" or "failed".
func (lm *LedgerMetrics) RecordSettlement(ctx context.Context, outcome string) {
	if lm == nil {
		return
	}
	lm.settlementsTotal.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordDiscrepancy records one reconciliation discrepancy.
func (lm *LedgerMetrics) RecordDiscrepancy(ctx context.Context, runType, resolution string) {
	if lm == nil {
		return
	}
	lm.discrepanciesTotal.Inc(ctx,
		AttrRunType.String(runType),
		AttrResolution.String(resolution),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of gauge metrics.
// It is non-blocking; use Stop() to stop collection.
func (lm *LedgerMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	if lm == nil {
		return
	}
	lm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}

		go lm.runPeriodicCollection(ctx, interval)
	})
}

func (lm *LedgerMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lm.collectState(ctx)

	for {
		select {
		case <-lm.stopChan:
			lm.logger.Info("Stopping periodic ledger metrics collection")
			return
		case <-ctx.Done():
			lm.logger.Info("Context cancelled, stopping periodic ledger metrics collection")
			return
		case <-ticker.C:
			lm.collectState(ctx)
		}
	}
}

func (lm *LedgerMetrics) collectState(ctx context.Context) {
	if lm.stateProvider == nil {
		lm.logger.Debug("No ledger state provider configured, skipping gauge collection")
		return
	}

	if backlog, err := lm.stateProvider.PendingOutboxCount(ctx); err != nil {
		lm.logger.Warn("Failed to count pending outbox entries", zap.Error(err))
	} else {
		lm.outboxBacklog.Record(ctx, backlog)
	}

	if holds, err := lm.stateProvider.ActiveHoldCount(ctx); err != nil {
		lm.logger.Warn("Failed to count active escrow holds", zap.Error(err))
	} else {
		lm.activeHolds.Record(ctx, holds)
	}
}

// Stop stops the periodic collection.
func (lm *LedgerMetrics) Stop() {
	if lm == nil {
		return
	}
	lm.stopOnce.Do(func() {
		close(lm.stopChan)
	})
}
