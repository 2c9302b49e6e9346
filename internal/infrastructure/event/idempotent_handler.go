package event

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DedupeStats counts what an IdempotentHandler did with the events it saw
type DedupeStats struct {
	Processed int64 `json:"processed"`
	Duplicate int64 `json:"duplicate"`
	Failed    int64 `json:"failed"`
}

// IdempotentHandler applies each event at most once per TTL. The outbox
// delivers at least once, so consumers with side effects outside the ledger
// store (the Redis projection) are wrapped with it.
type IdempotentHandler struct {
	handler shared.EventHandler
	store   shared.ProcessedEventStore
	ttl     time.Duration
	logger  *zap.Logger

	processed atomic.Int64
	duplicate atomic.Int64
	failed    atomic.Int64
}

// IdempotentHandlerOption configures an IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithDedupeTTL sets how long an event id is remembered
func WithDedupeTTL(ttl time.Duration) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

// NewIdempotentHandler wraps handler with event-id deduplication
func NewIdempotentHandler(handler shared.EventHandler, store shared.ProcessedEventStore, logger *zap.Logger, opts ...IdempotentHandlerOption) *IdempotentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &IdempotentHandler{
		handler: handler,
		store:   store,
		ttl:     shared.DefaultProcessedEventTTL,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EventTypes implements shared.EventHandler
func (h *IdempotentHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// Handle runs the wrapped handler unless the event was already applied. The
// event is marked only after the handler succeeds, so a failed attempt is
// retried on the next delivery.
func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	eventID := event.EventID().String()
	seen, err := h.store.IsProcessed(ctx, eventID)
	if err != nil {
		h.logger.Warn("dedupe lookup failed, applying event",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	} else if seen {
		h.duplicate.Add(1)
		h.logger.Debug("duplicate event skipped",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()))
		return nil
	}

	if err := h.handler.Handle(ctx, event); err != nil {
		h.failed.Add(1)
		return err
	}
	h.processed.Add(1)

	if _, err := h.store.MarkProcessed(ctx, eventID, h.ttl); err != nil {
		h.logger.Warn("failed to remember processed event",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
	return nil
}

// Stats returns a snapshot of the handler's counters
func (h *IdempotentHandler) Stats() DedupeStats {
	return DedupeStats{
		Processed: h.processed.Load(),
		Duplicate: h.duplicate.Load(),
		Failed:    h.failed.Load(),
	}
}

// Ensure IdempotentHandler implements EventHandler
var _ shared.EventHandler = (*IdempotentHandler)(nil)
