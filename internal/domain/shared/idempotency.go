package shared

import (
	"context"
	"time"
)

// DefaultProcessedEventTTL is how long a consumer remembers an event id.
const DefaultProcessedEventTTL = 24 * time.Hour

// ProcessedEventStore deduplicates at-least-once outbox delivery on the
// consumer side. Entries expire, unlike posting idempotency keys.
type ProcessedEventStore interface {
	// MarkProcessed reports true the first time it sees eventID.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	Close() error
}
