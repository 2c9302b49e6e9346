package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// SourceLedger is the source name used for discrepancies the ledger finds in
// itself, such as trades left unsettled past the grace period
const SourceLedger = "ledger"

// EngineConfig holds reconciliation settings
type EngineConfig struct {
	// AutoCorrectThreshold is the largest |actual - expected| a BALANCE run corrects on its own
	AutoCorrectThreshold decimal.Decimal
	PageSize             int
	// SettlementGrace is how long an executed trade may stay unsettled
	SettlementGrace time.Duration
}

// DefaultEngineConfig returns the default reconciliation settings
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AutoCorrectThreshold: decimal.NewFromInt(1),
		PageSize:             500,
		SettlementGrace:      time.Hour,
	}
}

// ReportArchiver stores the JSON report of a finished run and returns its key.
// DownloadURL hands out a time-limited link to an archived report.
type ReportArchiver interface {
	Archive(ctx context.Context, run *reconciliation.Run) (string, error)
	DownloadURL(ctx context.Context, key string) (string, time.Time, error)
}

// ReportLink is a time-limited download link for a run's archived report
type ReportLink struct {
	RunID     uuid.UUID `json:"run_id"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result is the outcome of a Reconcile call
type Result struct {
	Run *reconciliation.Run
	// Reused is true when a finished run for the same type and window was returned as-is
	Reused bool
}

// Engine compares the ledger against reconciliation sources. The ledger is
// the expected side; sources are never written to.
type Engine struct {
	scope    appledger.TransactionScope
	postings *appledger.PostingService
	registry *SourceRegistry
	alerter  reconciliation.Alerter
	archiver ReportArchiver
	metrics  *telemetry.LedgerMetrics
	config   EngineConfig
	logger   *zap.Logger
	now      func() time.Time
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithAlerter sets the alerter for flagged discrepancies
func WithAlerter(a reconciliation.Alerter) EngineOption {
	return func(e *Engine) { e.alerter = a }
}

// WithReportArchiver archives a JSON report of every finished run
func WithReportArchiver(a ReportArchiver) EngineOption {
	return func(e *Engine) { e.archiver = a }
}

// WithMetrics records discrepancy counters
func WithMetrics(m *telemetry.LedgerMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine clock
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a reconciliation engine
func NewEngine(scope appledger.TransactionScope, postings *appledger.PostingService, registry *SourceRegistry, config EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PageSize <= 0 || config.PageSize > shared.MaxPageSize {
		config.PageSize = shared.MaxPageSize
	}
	e := &Engine{
		scope:    scope,
		postings: postings,
		registry: registry,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.alerter == nil {
		e.alerter = NewLogAlerter(logger)
	}
	return e
}

// Reconcile runs reconciliation of type t over window w against the named
// sources. A finished run for the same type and window is returned without
// re-executing; a run that ended in ERROR is executed again.
func (e *Engine) Reconcile(ctx context.Context, t reconciliation.RunType, w reconciliation.Window, sourceNames []string) (*Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "reconcile")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRunType, t.String(),
		"window", w.String(),
	)

	var (
		result *Result
		err    error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels(telemetry.OperationReconcile, ""), func(ctx context.Context) {
		result, err = e.reconcile(ctx, t, w, sourceNames)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRunID, result.Run.ID.String(),
		"status", result.Run.Status.String(),
		"reused", result.Reused,
	)
	telemetry.SetOK(span)
	return result, nil
}

func (e *Engine) reconcile(ctx context.Context, t reconciliation.RunType, w reconciliation.Window, sourceNames []string) (*Result, error) {
	w, err := reconciliation.NewWindow(w.Start, w.End)
	if err != nil {
		return nil, err
	}
	run, err := reconciliation.NewRun(t, w, sourceNames, e.now())
	if err != nil {
		return nil, err
	}
	// resolve sources before touching the store so a bad request writes nothing
	var (
		balanceSources []reconciliation.BalanceSource
		tradeSources   []reconciliation.TradeSource
	)
	switch t {
	case reconciliation.RunTypeBalance:
		balanceSources, err = e.registry.BalanceSources(run.Sources)
	case reconciliation.RunTypeTrade:
		tradeSources, err = e.registry.TradeSources(run.Sources)
	}
	if err != nil {
		return nil, err
	}

	previous, err := appledger.ReadWithResult(ctx, e.scope, func(repos appledger.TransactionalRepositories) (*reconciliation.Run, error) {
		return repos.Runs().FindLatest(ctx, t, run.Window)
	})
	switch {
	case err == nil && previous.Status.IsFinished() && previous.CoversWindow():
		e.logger.Info("reconciliation run reused",
			zap.String("run_id", previous.ID.String()),
			zap.String("key", previous.Key()))
		return &Result{Run: previous, Reused: true}, nil
	case err == nil && previous.Status.IsFinished():
		e.logger.Info("reconciliation run superseded",
			zap.String("run_id", previous.ID.String()),
			zap.String("key", previous.Key()),
			zap.Time("cutoff", previous.Cutoff))
	case err != nil && !errors.Is(err, reconciliation.ErrRunNotFound):
		return nil, fmt.Errorf("failed to look up previous run: %w", err)
	}

	if err := e.scope.Execute(ctx, func(repos appledger.TransactionalRepositories) error {
		return repos.Runs().Create(ctx, run)
	}); err != nil {
		return nil, fmt.Errorf("failed to start reconciliation run: %w", err)
	}
	e.logger.Info("reconciliation run started",
		zap.String("run_id", run.ID.String()),
		zap.String("key", run.Key()),
		zap.Strings("sources", run.Sources),
		zap.Time("cutoff", run.Cutoff))

	switch t {
	case reconciliation.RunTypeBalance:
		err = e.compareBalances(ctx, run, balanceSources)
		if err == nil {
			e.correctBalances(ctx, run)
		}
	case reconciliation.RunTypeTrade:
		err = e.compareTrades(ctx, run, tradeSources)
		if err == nil {
			e.flagAll(ctx, run)
		}
	}
	if err != nil {
		return e.fail(ctx, run, err)
	}

	run.Finish(e.now())
	if e.archiver != nil {
		key, archiveErr := e.archiver.Archive(ctx, run)
		if archiveErr != nil {
			e.logger.Warn("failed to archive reconciliation report",
				zap.String("run_id", run.ID.String()),
				zap.Error(archiveErr))
		}
		run.ReportKey = key
	}
	if err := e.save(ctx, run, audit.ActionReconciliationCompleted, ""); err != nil {
		return nil, err
	}

	e.logger.Info("reconciliation run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", run.Status.String()),
		zap.Int("items_checked", run.ItemsChecked),
		zap.Int("discrepancies", len(run.Discrepancies)))
	return &Result{Run: run}, nil
}

// balanceItem is one account position read from the ledger
type balanceItem struct {
	account  ledger.Account
	expected decimal.Decimal
}

// compareBalances compares every account's balance at the cutoff with each
// source
func (e *Engine) compareBalances(ctx context.Context, run *reconciliation.Run, sources []reconciliation.BalanceSource) error {
	items, err := e.snapshotBalances(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to read ledger balances: %w", err)
	}
	for _, item := range items {
		run.ItemsChecked++
		for _, source := range sources {
			actual, ok, err := source.BalanceOf(ctx, item.account.ID, item.account.Currency, run.Cutoff)
			if err != nil {
				return fmt.Errorf("source %s failed for account %s: %w", source.Name(), item.account.ID, err)
			}
			if !ok || actual.Equal(item.expected) {
				continue
			}
			run.AddDiscrepancy(reconciliation.NewDiscrepancy(source.Name(), reconciliation.EntityAccount,
				item.account.ID, item.account.Currency, item.expected, actual))
		}
	}
	return nil
}

// snapshotBalances pages through every account inside one read-only
// transaction, so all pages see the same committed ledger
func (e *Engine) snapshotBalances(ctx context.Context, run *reconciliation.Run) ([]balanceItem, error) {
	return appledger.ReadWithResult(ctx, e.scope, func(repos appledger.TransactionalRepositories) ([]balanceItem, error) {
		var items []balanceItem
		after := uuid.Nil
		for {
			accounts, err := repos.Accounts().ListAfter(ctx, after, e.config.PageSize)
			if err != nil {
				return nil, err
			}
			for _, a := range accounts {
				head, err := repos.Entries().HeadAsOf(ctx, a.ID, run.Cutoff)
				if err != nil {
					return nil, err
				}
				items = append(items, balanceItem{account: a, expected: head.Balance})
			}
			if len(accounts) < e.config.PageSize {
				return items, nil
			}
			after = accounts[len(accounts)-1].ID
		}
	})
}

// tradeItem is one executed trade with the amount the ledger settled for it
type tradeItem struct {
	trade   trading.Trade
	settled decimal.Decimal
}

// compareTrades compares the settled ledger amount of each trade executed in
// the window with each source. Trades still unsettled past the
// grace period are reported by the ledger itself.
func (e *Engine) compareTrades(ctx context.Context, run *reconciliation.Run, sources []reconciliation.TradeSource) error {
	items, err := e.snapshotTrades(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to read trades: %w", err)
	}
	for _, item := range items {
		run.ItemsChecked++
		tr := item.trade
		if tr.Status != trading.TradeStatusSettled && tr.ExecutedAt.Add(e.config.SettlementGrace).Before(run.Cutoff) {
			run.AddDiscrepancy(reconciliation.NewDiscrepancy(SourceLedger, reconciliation.EntityTrade,
				tr.ID, tr.Currency, tr.BuyerCost(), item.settled))
		}
		for _, source := range sources {
			actual, ok, err := source.SettledAmount(ctx, tr.ID)
			if err != nil {
				return fmt.Errorf("source %s failed for trade %s: %w", source.Name(), tr.ID, err)
			}
			if !ok || actual.Equal(item.settled) {
				continue
			}
			run.AddDiscrepancy(reconciliation.NewDiscrepancy(source.Name(), reconciliation.EntityTrade,
				tr.ID, tr.Currency, item.settled, actual))
		}
	}
	return nil
}

func (e *Engine) snapshotTrades(ctx context.Context, run *reconciliation.Run) ([]tradeItem, error) {
	return appledger.ReadWithResult(ctx, e.scope, func(repos appledger.TransactionalRepositories) ([]tradeItem, error) {
		var items []tradeItem
		after := uuid.Nil
		for {
			trades, err := repos.Trades().ListExecutedBetween(ctx, run.Window.Start, run.Cutoff, after, e.config.PageSize)
			if err != nil {
				return nil, err
			}
			for _, tr := range trades {
				settled, err := settledAmount(ctx, repos, tr.ID)
				if err != nil {
					return nil, err
				}
				items = append(items, tradeItem{trade: tr, settled: settled})
			}
			if len(trades) < e.config.PageSize {
				return items, nil
			}
			after = trades[len(trades)-1].ID
		}
	})
}

// settledAmount sums the committed SETTLEMENT postings of a trade
func settledAmount(ctx context.Context, repos appledger.TransactionalRepositories, tradeID uuid.UUID) (decimal.Decimal, error) {
	settlement, err := repos.Settlements().FindByTradeID(ctx, tradeID)
	if errors.Is(err, trading.ErrSettlementNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	txns, err := repos.Transactions().FindByReference(ctx, ledger.Reference{Type: ledger.ReferenceSettlement, ID: settlement.ID})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, txn := range txns {
		if txn.Type == ledger.TransactionTypeSettlement && txn.Status == ledger.TransactionStatusCommitted {
			total = total.Add(txn.Amount)
		}
	}
	return total, nil
}

// correctBalances posts adjustments for discrepancies within the threshold
// and flags the rest. Accounts on which sources disagree are flagged.
func (e *Engine) correctBalances(ctx context.Context, run *reconciliation.Run) {
	perAccount := make(map[uuid.UUID]int, len(run.Discrepancies))
	for _, d := range run.Discrepancies {
		perAccount[d.EntityID]++
	}
	for _, d := range run.Discrepancies {
		if perAccount[d.EntityID] > 1 || !d.WithinThreshold(e.config.AutoCorrectThreshold) {
			e.flag(ctx, run, d)
			continue
		}
		txID, err := e.correct(ctx, run, d)
		if err != nil {
			d.MarkCorrectionFailed(err)
			e.logger.Warn("reconciliation correction failed",
				zap.String("run_id", run.ID.String()),
				zap.String("account_id", d.EntityID.String()),
				zap.Error(err))
		} else {
			d.MarkAutoCorrected(txID)
		}
		e.metrics.RecordDiscrepancy(ctx, run.Type.String(), string(d.Resolution))
	}
}

// correct posts an ADJUSTMENT between the account and the platform reserve
// that moves the account to the value the source reported
func (e *Engine) correct(ctx context.Context, run *reconciliation.Run, d *reconciliation.Discrepancy) (uuid.UUID, error) {
	reserve, err := appledger.ExecuteWithResult(ctx, e.scope, func(repos appledger.TransactionalRepositories) (*ledger.Account, error) {
		return appledger.EnsurePlatformAccountIn(ctx, repos, ledger.AccountTypePlatformReserve, d.Currency)
	})
	if err != nil {
		return uuid.Nil, err
	}

	amount := d.Magnitude()
	accountSide, reserveSide := ledger.EntryTypeCredit, ledger.EntryTypeDebit
	if d.Difference.IsNegative() {
		accountSide, reserveSide = ledger.EntryTypeDebit, ledger.EntryTypeCredit
	}
	description := fmt.Sprintf("Reconciliation correction from %s", d.Source)
	result, err := e.postings.Adjust(ctx, ledger.PostingParams{
		Description:    description,
		Currency:       d.Currency,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("recon:%s:%s:%s", run.Type, run.Window, d.EntityID),
		Reference:      &ledger.Reference{Type: ledger.ReferenceReconciliationRun, ID: run.ID},
		Metadata: map[string]string{
			"run_id":         run.ID.String(),
			"discrepancy_id": d.ID.String(),
			"source":         d.Source,
		},
		Entries: []ledger.EntrySpec{
			{AccountID: d.EntityID, EntryType: accountSide, Amount: amount, Description: description},
			{AccountID: reserve.ID, EntryType: reserveSide, Amount: amount, Description: description},
		},
	}, fmt.Sprintf("reconciliation run %s", run.ID), audit.SystemActor("reconciliation"))
	if err != nil {
		return uuid.Nil, err
	}
	return result.Transaction.ID, nil
}

// flagAll flags every discrepancy; TRADE runs never auto-correct
func (e *Engine) flagAll(ctx context.Context, run *reconciliation.Run) {
	for _, d := range run.Discrepancies {
		e.flag(ctx, run, d)
	}
}

func (e *Engine) flag(ctx context.Context, run *reconciliation.Run, d *reconciliation.Discrepancy) {
	d.MarkFlagged()
	run.AddDomainEvent(reconciliation.NewDiscrepancyFlaggedEvent(run, d))
	e.metrics.RecordDiscrepancy(ctx, run.Type.String(), string(d.Resolution))
	if err := e.alerter.Alert(ctx, run, d); err != nil {
		e.logger.Warn("failed to raise reconciliation alert",
			zap.String("run_id", run.ID.String()),
			zap.String("discrepancy_id", d.ID.String()),
			zap.Error(err))
	}
}

// fail records the run as ERROR so the next request for its key runs again
func (e *Engine) fail(ctx context.Context, run *reconciliation.Run, cause error) (*Result, error) {
	run.Fail(cause, e.now())
	if err := e.save(ctx, run, audit.ActionReconciliationCompleted, cause.Error()); err != nil {
		e.logger.Error("failed to record reconciliation failure",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}
	e.logger.Error("reconciliation run failed",
		zap.String("run_id", run.ID.String()),
		zap.String("key", run.Key()),
		zap.Error(cause))
	return &Result{Run: run}, reconciliation.ErrRunFailed.
		WithDetail("run_id", run.ID.String()).
		WithDetail("reason", cause.Error())
}

// save stores the run with its discrepancies, one audit entry per mismatch
// and the run's events
func (e *Engine) save(ctx context.Context, run *reconciliation.Run, action audit.Action, reason string) error {
	actor := audit.SystemActor("reconciliation")
	events := run.PullDomainEvents()
	err := e.scope.Execute(ctx, func(repos appledger.TransactionalRepositories) error {
		if err := repos.Runs().Save(ctx, run); err != nil {
			return err
		}
		for _, d := range run.Discrepancies {
			entry, err := audit.NewEntry(audit.ActionReconciliationMismatch, actor, d.EntityType, d.EntityID, nil, d, "")
			if err != nil {
				return err
			}
			if err := repos.Audit().Append(ctx, entry); err != nil {
				return err
			}
		}
		entry, err := audit.NewEntry(action, actor, reconciliation.AggregateTypeRun, run.ID, nil, runSummary(run), reason)
		if err != nil {
			return err
		}
		if err := repos.Audit().Append(ctx, entry); err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, events...)
	})
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// GetRun returns a run with its discrepancies
func (e *Engine) GetRun(ctx context.Context, id uuid.UUID) (*reconciliation.Run, error) {
	return appledger.ReadWithResult(ctx, e.scope, func(repos appledger.TransactionalRepositories) (*reconciliation.Run, error) {
		return repos.Runs().FindByID(ctx, id)
	})
}

// ListRuns lists runs without their discrepancies
func (e *Engine) ListRuns(ctx context.Context, filter reconciliation.RunFilter) ([]reconciliation.Run, int64, error) {
	page, err := appledger.ReadWithResult(ctx, e.scope, func(repos appledger.TransactionalRepositories) (runPage, error) {
		runs, total, err := repos.Runs().FindAll(ctx, filter)
		return runPage{runs: runs, total: total}, err
	})
	return page.runs, page.total, err
}

// ReportLink returns a download link for the run's archived report.
// Runs archived before an archiver was configured, or still running, have none.
func (e *Engine) ReportLink(ctx context.Context, id uuid.UUID) (*ReportLink, error) {
	run, err := e.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.ReportKey == "" || e.archiver == nil {
		return nil, reconciliation.ErrNoReport
	}
	url, expiresAt, err := e.archiver.DownloadURL(ctx, run.ReportKey)
	if err != nil {
		return nil, fmt.Errorf("sign report link: %w", err)
	}
	return &ReportLink{RunID: run.ID, Key: run.ReportKey, URL: url, ExpiresAt: expiresAt}, nil
}

// Sources lists the registered source names
func (e *Engine) Sources() []string {
	return e.registry.Names()
}

type runPage struct {
	runs  []reconciliation.Run
	total int64
}

type summary struct {
	Status        reconciliation.RunStatus          `json:"status"`
	ItemsChecked  int                               `json:"items_checked"`
	Discrepancies map[reconciliation.Resolution]int `json:"discrepancies"`
	ReportKey     string                            `json:"report_key,omitempty"`
}

func runSummary(run *reconciliation.Run) summary {
	return summary{
		Status:        run.Status,
		ItemsChecked:  run.ItemsChecked,
		Discrepancies: run.CountByResolution(),
		ReportKey:     run.ReportKey,
	}
}
