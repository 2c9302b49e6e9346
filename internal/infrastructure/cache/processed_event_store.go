package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradeledger/backend/internal/domain/shared"
)

const defaultProcessedEventPrefix = "ledger:event:processed:"

// RedisProcessedEventStore remembers processed event ids in Redis so every
// instance consuming the outbox shares one view
type RedisProcessedEventStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisProcessedEventStore creates a store on an existing client. The
// caller keeps ownership of the client.
func NewRedisProcessedEventStore(client redis.UniversalClient, keyPrefix string) *RedisProcessedEventStore {
	if keyPrefix == "" {
		keyPrefix = defaultProcessedEventPrefix
	}
	return &RedisProcessedEventStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed records the id with SETNX; false means it was already recorded
func (s *RedisProcessedEventStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+eventID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	return ok, nil
}

// IsProcessed reports whether the id is recorded
func (s *RedisProcessedEventStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// Close is a no-op; the shared client is closed by its owner
func (s *RedisProcessedEventStore) Close() error {
	return nil
}

// InMemoryProcessedEventStore is the single-instance ProcessedEventStore
type InMemoryProcessedEventStore struct {
	seen *ttlMap[string, struct{}]
}

// NewInMemoryProcessedEventStore creates a store; Close stops its sweeper
func NewInMemoryProcessedEventStore() *InMemoryProcessedEventStore {
	return &InMemoryProcessedEventStore{seen: newTTLMap[string, struct{}]()}
}

// MarkProcessed records the id; false means it was already recorded
func (s *InMemoryProcessedEventStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	return s.seen.setIfAbsent(eventID, struct{}{}, ttl), nil
}

// IsProcessed reports whether the id is recorded and not expired
func (s *InMemoryProcessedEventStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := s.seen.get(eventID)
	return ok, nil
}

// Size returns the number of remembered ids, expired ones included until the next sweep
func (s *InMemoryProcessedEventStore) Size() int {
	return s.seen.len()
}

// Close stops the background sweep
func (s *InMemoryProcessedEventStore) Close() error {
	s.seen.close()
	return nil
}

var (
	_ shared.ProcessedEventStore = (*RedisProcessedEventStore)(nil)
	_ shared.ProcessedEventStore = (*InMemoryProcessedEventStore)(nil)
)
