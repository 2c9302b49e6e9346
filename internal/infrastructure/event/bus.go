package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DeliveryError reports one handler failing one event.
type DeliveryError struct {
	EventType string
	EventID   string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s %s: %v", e.EventType, e.EventID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// InMemoryEventBus fans events out to in-process handlers on the caller's
// goroutine. A failing handler does not stop the others; all failures come
// back joined so the outbox keeps the entry for another attempt.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
}

func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{registry: NewHandlerRegistry(), logger: logger.Named("event-bus")}
}

func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	var failures []error
	for _, event := range events {
		failures = append(failures, b.deliver(ctx, event)...)
	}
	return errors.Join(failures...)
}

func (b *InMemoryEventBus) deliver(ctx context.Context, event shared.DomainEvent) []error {
	var failures []error
	for _, handler := range b.registry.HandlersFor(event.EventType()) {
		err := invoke(ctx, handler, event)
		if err == nil {
			continue
		}
		failure := &DeliveryError{EventType: event.EventType(), EventID: event.EventID().String(), Err: err}
		if ce := b.logger.Check(zap.ErrorLevel, "event handler failed"); ce != nil {
			ce.Write(
				zap.String("event_type", failure.EventType),
				zap.String("event_id", failure.EventID),
				zap.Stringer("aggregate_id", event.AggregateID()),
				zap.String("handler", fmt.Sprintf("%T", handler)),
				zap.Error(err))
		}
		failures = append(failures, failure)
	}
	return failures
}

// Subscribe registers handler for eventTypes, or for handler.EventTypes()
// when none are given.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("subscribed", zap.String("handler", fmt.Sprintf("%T", handler)), zap.Strings("event_types", eventTypes))
}

func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

func (b *InMemoryEventBus) Start(context.Context) error {
	b.logger.Info("event bus ready", zap.Int("handlers", len(b.registry.Handlers())))
	return nil
}

func (b *InMemoryEventBus) Stop(context.Context) error {
	b.logger.Info("event bus stopped")
	return nil
}

func invoke(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
