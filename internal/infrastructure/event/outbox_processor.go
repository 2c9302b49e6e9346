package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Forwarder delivers a raw outbox entry to a system outside the process,
// such as the Kafka projection topic
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, entry *shared.OutboxEntry) error
}

// OutboxProcessorConfig holds configuration for the outbox processor
type OutboxProcessorConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultOutboxProcessorConfig returns default configuration
func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:        100,
		PollInterval:     time.Second,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// BatchStats summarizes one processing pass
type BatchStats struct {
	Sent   int
	Failed int
	Dead   int
}

// OutboxProcessor drains the outbox: each entry is published to the
// in-process bus and then handed to every forwarder. An entry is SENT only
// when all of them accept it; otherwise it is retried with backoff until it
// is dead-lettered.
type OutboxProcessor struct {
	repo       shared.OutboxRepository
	bus        shared.EventPublisher
	serializer *EventSerializer
	forwarders []Forwarder
	config     OutboxProcessorConfig
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutboxProcessor creates a new outbox processor
func NewOutboxProcessor(
	repo shared.OutboxRepository,
	bus shared.EventPublisher,
	serializer *EventSerializer,
	config OutboxProcessorConfig,
	logger *zap.Logger,
	forwarders ...Forwarder,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultOutboxProcessorConfig().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxProcessor{
		repo:       repo,
		bus:        bus,
		serializer: serializer,
		forwarders: forwarders,
		config:     config,
		logger:     logger.Named("outbox"),
	}
}

// Start runs the poll loop and, when enabled, the cleanup loop
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("outbox processor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(ctx, p.config.PollInterval, func(ctx context.Context) {
		if _, err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("outbox pass failed", zap.Error(err))
		}
	})
	if p.config.CleanupEnabled {
		p.wg.Add(1)
		go p.loop(ctx, p.config.CleanupInterval, p.cleanup)
	}

	names := make([]string, len(p.forwarders))
	for i, f := range p.forwarders {
		names[i] = f.Name()
	}
	p.logger.Info("outbox processor started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Strings("forwarders", names))
	return nil
}

// Stop cancels the loops and waits for the current pass to finish
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("outbox processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *OutboxProcessor) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// ProcessOnce delivers one batch of pending entries and one batch of
// retryable entries
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) (BatchStats, error) {
	var stats BatchStats
	pending, err := p.repo.FindPending(ctx, p.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to find pending outbox entries: %w", err)
	}
	if err := p.deliver(ctx, pending, &stats); err != nil {
		return stats, err
	}

	retryable, err := p.repo.FindRetryable(ctx, time.Now().UTC(), p.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to find retryable outbox entries: %w", err)
	}
	err = p.deliver(ctx, retryable, &stats)
	return stats, err
}

func (p *OutboxProcessor) deliver(ctx context.Context, entries []*shared.OutboxEntry, stats *BatchStats) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to claim outbox entries: %w", err)
	}

	for _, entry := range claimed {
		if err := p.deliverOne(ctx, entry); err != nil {
			entry.MarkFailed(err.Error())
			if entry.IsDead() {
				stats.Dead++
				p.logger.Error("outbox entry dead-lettered",
					zap.String("event_id", entry.EventID.String()),
					zap.String("event_type", entry.EventType),
					zap.String("aggregate_type", entry.AggregateType),
					zap.String("aggregate_id", entry.AggregateID.String()),
					zap.Int("retry_count", entry.RetryCount),
					zap.String("last_error", entry.LastError))
			} else {
				stats.Failed++
				p.logger.Warn("outbox delivery failed",
					zap.String("event_id", entry.EventID.String()),
					zap.String("event_type", entry.EventType),
					zap.Int("retry_count", entry.RetryCount),
					zap.Error(err))
			}
		} else {
			entry.MarkSent()
			stats.Sent++
		}
		if err := p.repo.Update(ctx, entry); err != nil {
			p.logger.Error("failed to update outbox entry",
				zap.String("event_id", entry.EventID.String()),
				zap.Error(err))
		}
	}
	return nil
}

func (p *OutboxProcessor) deliverOne(ctx context.Context, entry *shared.OutboxEntry) error {
	event, err := p.serializer.Deserialize(entry.EventType, entry.Payload)
	if err != nil {
		return err
	}
	if p.bus != nil {
		if err := p.bus.Publish(ctx, event); err != nil {
			return fmt.Errorf("bus: %w", err)
		}
	}
	for _, f := range p.forwarders {
		if err := f.Forward(ctx, entry); err != nil {
			return fmt.Errorf("%s: %w", f.Name(), err)
		}
	}
	return nil
}

func (p *OutboxProcessor) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupRetention)
	deleted, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to clean up outbox entries", zap.Error(err))
		return
	}
	if deleted > 0 {
		p.logger.Info("cleaned up outbox entries",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}
