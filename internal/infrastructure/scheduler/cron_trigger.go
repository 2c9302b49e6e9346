package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"go.uber.org/zap"
)

// TriggerConfig holds the cadence of each periodic job. A zero interval
// disables that job.
type TriggerConfig struct {
	BalanceInterval     time.Duration
	TradeInterval       time.Duration
	SettlementInterval  time.Duration
	OrderExpiryInterval time.Duration

	// CheckInterval is how often to check whether a job is due
	CheckInterval time.Duration
}

// DefaultTriggerConfig returns the default cadence: balances hourly, trades
// every six hours
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		BalanceInterval:     time.Hour,
		TradeInterval:       6 * time.Hour,
		SettlementInterval:  time.Minute,
		OrderExpiryInterval: time.Minute,
		CheckInterval:       time.Minute,
	}
}

// Submitter accepts jobs
type Submitter interface {
	SubmitJob(job *Job) error
}

// CronTrigger submits periodic jobs. Reconciliation jobs are submitted once
// per closed window; sweeps are submitted whenever their interval elapses.
type CronTrigger struct {
	config     TriggerConfig
	submitter  Submitter
	maxRetries int
	logger     *zap.Logger
	now        func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	lastWindow map[JobKind]reconciliation.Window
	lastSweep  map[JobKind]time.Time
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(config TriggerConfig, submitter Submitter, maxRetries int, logger *zap.Logger) *CronTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	return &CronTrigger{
		config:     config,
		submitter:  submitter,
		maxRetries: maxRetries,
		logger:     logger.Named("cron-trigger"),
		now:        time.Now,
		lastWindow: make(map[JobKind]reconciliation.Window),
		lastSweep:  make(map[JobKind]time.Time),
	}
}

// Start starts the trigger loop. Due jobs are checked immediately.
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	c.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("cron trigger started",
		zap.Duration("balance_interval", c.config.BalanceInterval),
		zap.Duration("trade_interval", c.config.TradeInterval),
		zap.Duration("settlement_interval", c.config.SettlementInterval),
		zap.Duration("order_expiry_interval", c.config.OrderExpiryInterval))
	return nil
}

// Stop stops the trigger loop
func (c *CronTrigger) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("cron trigger stopped")
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	c.Tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick submits every job that is due at the current time
func (c *CronTrigger) Tick() {
	now := c.now()
	c.triggerWindow(JobKindBalanceReconciliation, c.config.BalanceInterval, now)
	c.triggerWindow(JobKindTradeReconciliation, c.config.TradeInterval, now)
	c.triggerSweep(JobKindSettlementSweep, c.config.SettlementInterval, now)
	c.triggerSweep(JobKindOrderExpiry, c.config.OrderExpiryInterval, now)
}

func (c *CronTrigger) triggerWindow(kind JobKind, length time.Duration, now time.Time) {
	if length <= 0 {
		return
	}
	window := reconciliation.TrailingWindow(now, length)

	c.mu.Lock()
	last, seen := c.lastWindow[kind]
	c.mu.Unlock()
	if seen && !window.End.After(last.End) {
		return
	}
	if c.submit(NewJob(kind, &window, c.maxRetries)) {
		c.mu.Lock()
		c.lastWindow[kind] = window
		c.mu.Unlock()
	}
}

func (c *CronTrigger) triggerSweep(kind JobKind, interval time.Duration, now time.Time) {
	if interval <= 0 {
		return
	}
	c.mu.Lock()
	last, seen := c.lastSweep[kind]
	c.mu.Unlock()
	if seen && now.Sub(last) < interval {
		return
	}
	// sweeps run again on the next interval anyway
	if c.submit(NewJob(kind, nil, 0)) {
		c.mu.Lock()
		c.lastSweep[kind] = now
		c.mu.Unlock()
	}
}

// submit reports whether the trigger may consider the job handled
func (c *CronTrigger) submit(job *Job) bool {
	err := c.submitter.SubmitJob(job)
	switch {
	case err == nil:
		c.logger.Debug("job triggered", zap.String("kind", string(job.Kind)), zap.String("key", job.Key()))
		return true
	case errors.Is(err, ErrJobAlreadyQueued):
		return true
	default:
		c.logger.Warn("failed to trigger job", zap.String("kind", string(job.Kind)), zap.Error(err))
		return false
	}
}
