package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobKind selects what the executor does with a job.
type JobKind string

const (
	JobKindBalanceReconciliation JobKind = "RECONCILE_BALANCE"
	JobKindTradeReconciliation   JobKind = "RECONCILE_TRADE"
	JobKindSettlementSweep       JobKind = "SETTLEMENT_SWEEP"
	JobKindOrderExpiry           JobKind = "ORDER_EXPIRY"
)

// Job is one run of background work. Window is set for reconciliation
// kinds only.
type Job struct {
	ID     uuid.UUID
	Kind   JobKind
	Window *reconciliation.Window
	Status JobStatus
	Error  string

	StartedAt   *time.Time
	CompletedAt *time.Time

	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

func NewJob(kind JobKind, window *reconciliation.Window, maxRetries int) *Job {
	return &Job{ID: uuid.New(), Kind: kind, Window: window, Status: JobStatusPending, MaxRetries: maxRetries}
}

// Key is shared by jobs that would do identical work; the scheduler keeps
// at most one job per key queued or running.
func (j *Job) Key() string {
	if j.Window == nil {
		return string(j.Kind)
	}
	return string(j.Kind) + ":" + j.Window.String()
}

func stamp() *time.Time {
	now := time.Now()
	return &now
}

func (j *Job) Start() {
	j.Status, j.StartedAt, j.Error = JobStatusRunning, stamp(), ""
}

func (j *Job) Complete() {
	j.Status, j.CompletedAt = JobStatusSuccess, stamp()
}

func (j *Job) Fail(reason string) {
	j.Status, j.CompletedAt, j.Error = JobStatusFailed, stamp(), reason
}

func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry moves a failed job back to pending and returns how long to
// wait: baseDelay doubled once per earlier retry.
func (j *Job) ScheduleRetry(baseDelay time.Duration) time.Duration {
	wait := baseDelay << j.RetryCount
	j.RetryCount++
	next := time.Now().Add(wait)
	j.Status, j.NextRetryAt, j.Error = JobStatusPending, &next, ""
	return wait
}

// JobExecutor runs a job to completion or failure.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}
