// Package scheduler runs the ledger's background jobs: periodic
// reconciliation, the settlement sweep and order expiry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	ErrJobQueueFull        = errors.New("job queue is full")
	// ErrJobAlreadyQueued means a job with the same key is queued or running.
	ErrJobAlreadyQueued = errors.New("job already queued")
	ErrUnknownJobKind   = errors.New("unknown job kind")
	ErrInvalidConfig    = errors.New("invalid scheduler configuration")
)

type Config struct {
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 3,
		QueueSize:         100,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Minute,
	}
}

func (c Config) Validate() error {
	var problem string
	switch {
	case c.MaxConcurrentJobs <= 0:
		problem = "max concurrent jobs must be positive"
	case c.QueueSize <= 0:
		problem = "queue size must be positive"
	case c.JobTimeout <= 0:
		problem = "job timeout must be positive"
	case c.RetryAttempts < 0:
		problem = "retry attempts cannot be negative"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, problem)
}

// Stats counts job outcomes since the scheduler was created.
type Stats struct {
	Succeeded int
	Failed    int
	Retried   int
}

// Scheduler executes submitted jobs on a fixed pool of workers. Failed jobs
// are retried after a doubling delay while their key stays reserved.
type Scheduler struct {
	config   Config
	executor JobExecutor
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	queue    chan *Job
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	reserved map[string]struct{}
	pending  []*time.Timer
	stats    Stats
}

func NewScheduler(config Config, executor JobExecutor, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		config:   config,
		executor: executor,
		logger:   logger.Named("scheduler"),
		reserved: make(map[string]struct{}),
	}, nil
}

// Start launches the workers. Calling it on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan *Job, s.config.QueueSize)
	s.running = true
	for id := range s.config.MaxConcurrentJobs {
		s.workers.Go(func() { s.work(ctx, id) })
	}

	s.logger.Info("scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout))
	return nil
}

// Stop cancels in-flight jobs, drops pending retries and waits for the
// workers until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	for _, timer := range s.pending {
		timer.Stop()
	}
	s.pending = nil
	s.cancel()
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, workers still running")
		return ctx.Err()
	}
}

func (s *Scheduler) SubmitJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrSchedulerNotRunning
	}
	key := job.Key()
	if _, taken := s.reserved[key]; taken {
		return ErrJobAlreadyQueued
	}
	if !s.enqueue(job) {
		return ErrJobQueueFull
	}
	s.reserved[key] = struct{}{}
	s.logger.Debug("job submitted", zap.Stringer("job_id", job.ID), zap.String("kind", string(job.Kind)))
	return nil
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// enqueue never blocks; callers hold mu.
func (s *Scheduler) enqueue(job *Job) bool {
	select {
	case s.queue <- job:
		return true
	default:
		return false
	}
}

func (s *Scheduler) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.run(ctx, job, s.jobLogger(job, id))
		}
	}
}

func (s *Scheduler) jobLogger(job *Job, worker int) *zap.Logger {
	fields := []zap.Field{
		zap.Int("worker_id", worker),
		zap.Stringer("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
	}
	if job.Window != nil {
		fields = append(fields, zap.String("window", job.Window.String()))
	}
	return s.logger.With(fields...)
}

func (s *Scheduler) run(ctx context.Context, job *Job, log *zap.Logger) {
	job.Start()
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.executor.Execute(jobCtx, job)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		job.Complete()
		s.stats.Succeeded++
		delete(s.reserved, job.Key())
		log.Debug("job completed")
		return
	}

	job.Fail(err.Error())
	s.stats.Failed++
	log.Error("job failed", zap.Int("retry_count", job.RetryCount), zap.Error(err))
	if !s.running || !job.ShouldRetry() {
		delete(s.reserved, job.Key())
		return
	}

	wait := job.ScheduleRetry(s.config.RetryDelay)
	s.stats.Retried++
	log.Info("job scheduled for retry", zap.Duration("delay", wait))
	s.pending = append(s.pending, time.AfterFunc(wait, func() { s.retry(job) }))
}

// retry re-queues a job whose key is still reserved, releasing the key when
// the scheduler has stopped or the queue is full.
func (s *Scheduler) retry(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.enqueue(job) {
		return
	}
	delete(s.reserved, job.Key())
	if s.running {
		s.logger.Warn("retry dropped, job queue full", zap.Stringer("job_id", job.ID))
	}
}
