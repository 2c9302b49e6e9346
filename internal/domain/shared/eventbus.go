package shared

import "context"

// EventHandler consumes domain events. An empty EventTypes subscribes the
// handler to every event.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher fans events out to in-process handlers.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is an EventPublisher that handlers subscribe to. Passing event
// types to Subscribe overrides the handler's own EventTypes.
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboxWriter appends events to the outbox inside the caller's unit of work.
type OutboxWriter interface {
	Append(ctx context.Context, events ...DomainEvent) error
}
