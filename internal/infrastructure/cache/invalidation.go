package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultInvalidationChannel = "ledger:snapshot:invalidate"
	defaultCloseTimeout        = 5 * time.Second
)

type invalidationMessage struct {
	AccountIDs []uuid.UUID `json:"account_ids"`
	Timestamp  int64       `json:"timestamp"`
}

// SnapshotInvalidator broadcasts snapshot invalidations over Redis Pub/Sub
type SnapshotInvalidator struct {
	client    *redis.Client
	channel   string
	logger    *zap.Logger
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	mu        sync.Mutex
	isRunning bool
}

// InvalidatorOption configures a SnapshotInvalidator
type InvalidatorOption func(*SnapshotInvalidator)

// WithInvalidatorChannel sets the Pub/Sub channel name
func WithInvalidatorChannel(channel string) InvalidatorOption {
	return func(i *SnapshotInvalidator) {
		i.channel = channel
	}
}

// WithInvalidatorLogger sets the logger
func WithInvalidatorLogger(logger *zap.Logger) InvalidatorOption {
	return func(i *SnapshotInvalidator) {
		i.logger = logger
	}
}

// NewSnapshotInvalidator creates an invalidator on a shared client. The caller
// keeps ownership of the client.
func NewSnapshotInvalidator(client *redis.Client, opts ...InvalidatorOption) *SnapshotInvalidator {
	i := &SnapshotInvalidator{
		client:  client,
		channel: defaultInvalidationChannel,
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Publish announces that the given accounts' snapshots are stale
func (i *SnapshotInvalidator) Publish(ctx context.Context, accountIDs ...uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	data, err := json.Marshal(invalidationMessage{AccountIDs: accountIDs, Timestamp: time.Now().UnixNano()})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Subscribe blocks, invoking callback for every invalidation until ctx ends
// or Close is called
func (i *SnapshotInvalidator) Subscribe(ctx context.Context, callback func(accountIDs []uuid.UUID)) error {
	i.mu.Lock()
	if i.isRunning {
		i.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	i.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.isRunning = false
		i.mu.Unlock()
		i.doneOnce.Do(func() { close(i.doneCh) })
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	i.logger.Info("subscribed to snapshot invalidation", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				i.logger.Warn("dropping malformed invalidation", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			callback(m.AccountIDs)
		}
	}
}

// Close stops the subscription, waiting briefly for it to exit
func (i *SnapshotInvalidator) Close() error {
	i.mu.Lock()
	cancelFn, running := i.cancelFn, i.isRunning
	i.mu.Unlock()
	if cancelFn == nil {
		return nil
	}
	cancelFn()
	if !running {
		return nil
	}
	select {
	case <-i.doneCh:
	case <-time.After(defaultCloseTimeout):
		i.logger.Warn("timeout waiting for invalidation subscription to stop")
	}
	return nil
}
