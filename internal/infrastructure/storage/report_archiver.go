package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"go.uber.org/zap"
)

// ReportArchiver writes finished reconciliation runs to object storage as JSON
type ReportArchiver struct {
	store   ObjectStore
	prefix  string
	linkTTL time.Duration
	logger  *zap.Logger
}

// NewReportArchiver creates an archiver writing under prefix. Download links
// live for linkTTL; zero defers to the store's default.
func NewReportArchiver(store ObjectStore, prefix string, linkTTL time.Duration, logger *zap.Logger) *ReportArchiver {
	return &ReportArchiver{store: store, prefix: prefix, linkTTL: linkTTL, logger: logger.Named("report-archiver")}
}

type report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Run         *reconciliation.Run `json:"run"`
}

// ReportKey is where a run's report lives:
// <prefix>/<type>/<yyyy>/<mm>/<dd>/<run id>.json, dated by window start
func (a *ReportArchiver) ReportKey(run *reconciliation.Run) string {
	start := run.Window.Start.UTC()
	return path.Join(a.prefix, run.Type.String(), start.Format("2006/01/02"), run.ID.String()+".json")
}

// DownloadURL signs a link to an archived report. The store must be able to
// sign URLs.
func (a *ReportArchiver) DownloadURL(ctx context.Context, key string) (string, time.Time, error) {
	signer, ok := a.store.(URLSigner)
	if !ok {
		return "", time.Time{}, ErrSigningUnsupported
	}
	return signer.SignedURL(ctx, key, a.linkTTL)
}

// Archive implements the reconciliation engine's report archiver
func (a *ReportArchiver) Archive(ctx context.Context, run *reconciliation.Run) (string, error) {
	data, err := json.MarshalIndent(report{GeneratedAt: time.Now().UTC(), Run: run}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	key := a.ReportKey(run)
	if err := a.store.Put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	a.logger.Info("reconciliation report archived",
		zap.String("run_id", run.ID.String()),
		zap.String("key", key),
		zap.Int("discrepancies", len(run.Discrepancies)))
	return key, nil
}
