package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"go.uber.org/zap"
)

const (
	defaultSnapshotPrefix = "ledger:snapshot:"
	// DefaultSnapshotTTL bounds how long a snapshot stays cached
	DefaultSnapshotTTL = 30 * time.Minute
)

// InMemorySnapshotStore keeps balance snapshots in process memory
type InMemorySnapshotStore struct {
	items *ttlMap[uuid.UUID, ledger.BalanceSnapshot]
	ttl   time.Duration
}

// NewInMemorySnapshotStore creates a store; a zero ttl keeps snapshots until invalidated
func NewInMemorySnapshotStore(ttl time.Duration) *InMemorySnapshotStore {
	return &InMemorySnapshotStore{items: newTTLMap[uuid.UUID, ledger.BalanceSnapshot](), ttl: ttl}
}

// Get implements ledger.SnapshotStore
func (s *InMemorySnapshotStore) Get(_ context.Context, accountID uuid.UUID) (*ledger.BalanceSnapshot, error) {
	snap, ok := s.items.get(accountID)
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Put implements ledger.SnapshotStore. An older snapshot never replaces a newer one.
func (s *InMemorySnapshotStore) Put(_ context.Context, snapshot ledger.BalanceSnapshot) error {
	if current, ok := s.items.get(snapshot.AccountID); ok && current.Sequence > snapshot.Sequence {
		return nil
	}
	s.items.set(snapshot.AccountID, snapshot, s.ttl)
	return nil
}

// Invalidate implements ledger.SnapshotStore
func (s *InMemorySnapshotStore) Invalidate(_ context.Context, accountIDs ...uuid.UUID) error {
	s.items.delete(accountIDs...)
	return nil
}

// Clear drops every snapshot
func (s *InMemorySnapshotStore) Clear() {
	s.items.clear()
}

// Close stops the background sweep
func (s *InMemorySnapshotStore) Close() error {
	s.items.close()
	return nil
}

// RedisSnapshotStore keeps balance snapshots in Redis as JSON
type RedisSnapshotStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSnapshotStore creates a store on an existing client
func NewRedisSnapshotStore(client redis.UniversalClient, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, keyPrefix: defaultSnapshotPrefix, ttl: ttl}
}

func (s *RedisSnapshotStore) key(id uuid.UUID) string {
	return s.keyPrefix + id.String()
}

// Get implements ledger.SnapshotStore
func (s *RedisSnapshotStore) Get(ctx context.Context, accountID uuid.UUID) (*ledger.BalanceSnapshot, error) {
	data, err := s.client.Get(ctx, s.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", accountID, err)
	}
	var snap ledger.BalanceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", accountID, err)
	}
	return &snap, nil
}

// Put implements ledger.SnapshotStore
func (s *RedisSnapshotStore) Put(ctx context.Context, snapshot ledger.BalanceSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snapshot.AccountID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", snapshot.AccountID, err)
	}
	return nil
}

// Invalidate implements ledger.SnapshotStore
func (s *RedisSnapshotStore) Invalidate(ctx context.Context, accountIDs ...uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = s.key(id)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshots: %w", err)
	}
	return nil
}

// TieredSnapshotStore reads through a local L1 to Redis and broadcasts
// invalidations so every instance drops its L1 copy
type TieredSnapshotStore struct {
	l1          *InMemorySnapshotStore
	l2          *RedisSnapshotStore
	invalidator *SnapshotInvalidator
	logger      *zap.Logger
	cancel      context.CancelFunc
}

// NewTieredSnapshotStore wires the tiers and starts listening for invalidations
func NewTieredSnapshotStore(client *redis.Client, l1TTL, l2TTL time.Duration, logger *zap.Logger) *TieredSnapshotStore {
	logger = logger.Named("snapshot-cache")
	s := &TieredSnapshotStore{
		l1:          NewInMemorySnapshotStore(l1TTL),
		l2:          NewRedisSnapshotStore(client, l2TTL),
		invalidator: NewSnapshotInvalidator(client, WithInvalidatorLogger(logger)),
		logger:      logger,
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		err := s.invalidator.Subscribe(ctx, func(ids []uuid.UUID) {
			_ = s.l1.Invalidate(ctx, ids...)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("snapshot invalidation subscription ended", zap.Error(err))
		}
	}()
	return s
}

// Get implements ledger.SnapshotStore
func (s *TieredSnapshotStore) Get(ctx context.Context, accountID uuid.UUID) (*ledger.BalanceSnapshot, error) {
	if snap, _ := s.l1.Get(ctx, accountID); snap != nil {
		return snap, nil
	}
	snap, err := s.l2.Get(ctx, accountID)
	if err != nil || snap == nil {
		return nil, err
	}
	_ = s.l1.Put(ctx, *snap)
	return snap, nil
}

// Put implements ledger.SnapshotStore
func (s *TieredSnapshotStore) Put(ctx context.Context, snapshot ledger.BalanceSnapshot) error {
	_ = s.l1.Put(ctx, snapshot)
	return s.l2.Put(ctx, snapshot)
}

// Invalidate implements ledger.SnapshotStore
func (s *TieredSnapshotStore) Invalidate(ctx context.Context, accountIDs ...uuid.UUID) error {
	_ = s.l1.Invalidate(ctx, accountIDs...)
	if err := s.l2.Invalidate(ctx, accountIDs...); err != nil {
		return err
	}
	if err := s.invalidator.Publish(ctx, accountIDs...); err != nil {
		s.logger.Warn("failed to broadcast snapshot invalidation", zap.Error(err))
	}
	return nil
}

// Close stops the subscription and the L1 sweep
func (s *TieredSnapshotStore) Close() error {
	s.cancel()
	err := s.invalidator.Close()
	_ = s.l1.Close()
	return err
}

var (
	_ ledger.SnapshotStore = (*InMemorySnapshotStore)(nil)
	_ ledger.SnapshotStore = (*RedisSnapshotStore)(nil)
	_ ledger.SnapshotStore = (*TieredSnapshotStore)(nil)
)
