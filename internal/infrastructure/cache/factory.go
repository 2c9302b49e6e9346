package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Factory builds the Redis-backed stores, falling back to in-memory ones
// when Redis is unreachable and fallback is allowed
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool

	once      sync.Once
	client    *redis.Client
	clientErr error
	closers   []func() error
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether in-memory stores replace Redis when it
// is unavailable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new Factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Client returns the shared Redis client, connecting on first use
func (f *Factory) Client(ctx context.Context) (*redis.Client, error) {
	f.once.Do(func() {
		f.client, f.clientErr = NewRedisClient(ctx, f.redisConfig)
		if f.clientErr == nil {
			f.closers = append(f.closers, f.client.Close)
		}
	})
	return f.client, f.clientErr
}

func (f *Factory) fallback(what string, err error) error {
	if !f.allowInMemoryFallback {
		return fmt.Errorf("Redis required for %s but unavailable: %w", what, err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory "+what+
		"; state is not shared across instances", zap.Error(err))
	return nil
}

// ProcessedEventStore returns the event dedupe store
func (f *Factory) ProcessedEventStore(ctx context.Context) (shared.ProcessedEventStore, error) {
	client, err := f.Client(ctx)
	if err == nil {
		f.logger.Info("using Redis processed-event store")
		return NewRedisProcessedEventStore(client, ""), nil
	}
	if ferr := f.fallback("processed-event store", err); ferr != nil {
		return nil, ferr
	}
	store := NewInMemoryProcessedEventStore()
	f.closers = append([]func() error{store.Close}, f.closers...)
	return store, nil
}

// SnapshotStore returns the balance snapshot cache
func (f *Factory) SnapshotStore(ctx context.Context, ttl time.Duration) (ledger.SnapshotStore, error) {
	client, err := f.Client(ctx)
	if err == nil {
		f.logger.Info("using tiered Redis snapshot store")
		store := NewTieredSnapshotStore(client, ttl/2, ttl, f.logger)
		f.closers = append([]func() error{store.Close}, f.closers...)
		return store, nil
	}
	if ferr := f.fallback("snapshot store", err); ferr != nil {
		return nil, ferr
	}
	store := NewInMemorySnapshotStore(ttl)
	f.closers = append([]func() error{store.Close}, f.closers...)
	return store, nil
}

// Close releases every store and the client, stores first
func (f *Factory) Close() error {
	var first error
	for _, c := range f.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	f.closers = nil
	return first
}
