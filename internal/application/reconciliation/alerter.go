package reconciliation

import (
	"context"

	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"go.uber.org/zap"
)

// LogAlerter raises alerts as error-level log lines, which the log pipeline
// forwards to on-call
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter creates a new LogAlerter
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.Named("reconciliation-alert")}
}

// Alert implements reconciliation.Alerter
func (a *LogAlerter) Alert(_ context.Context, run *reconciliation.Run, d *reconciliation.Discrepancy) error {
	a.logger.Error("reconciliation discrepancy flagged",
		zap.String("run_id", run.ID.String()),
		zap.String("run_type", run.Type.String()),
		zap.String("window", run.Window.String()),
		zap.String("source", d.Source),
		zap.String("entity_type", d.EntityType),
		zap.String("entity_id", d.EntityID.String()),
		zap.String("currency", d.Currency.String()),
		zap.String("expected", d.Expected.String()),
		zap.String("actual", d.Actual.String()),
		zap.String("difference", d.Difference.String()))
	return nil
}

// MultiAlerter fans an alert out to several alerters and returns the first error
type MultiAlerter []reconciliation.Alerter

// Alert implements reconciliation.Alerter
func (m MultiAlerter) Alert(ctx context.Context, run *reconciliation.Run, d *reconciliation.Discrepancy) error {
	var first error
	for _, a := range m {
		if err := a.Alert(ctx, run, d); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ reconciliation.Alerter = (*LogAlerter)(nil)
	_ reconciliation.Alerter = MultiAlerter(nil)
)
