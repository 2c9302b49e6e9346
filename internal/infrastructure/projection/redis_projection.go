// Package projection mirrors committed ledger entries into Redis so balances
// can be read without touching the ledger store
package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
	"go.uber.org/zap"
)

// SourceName is the name the projection registers under as a reconciliation source
const SourceName = "projection"

const (
	defaultKeyPrefix  = "ledger:projection:"
	defaultHistoryLen = 1000
)

// applyScript records the entry in the account's history and advances the
// head only when the sequence moves forward. Returns 1 when the head moved.
var applyScript = redis.NewScript(`
local seq = tonumber(ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1] .. '|' .. ARGV[2])
redis.call('ZREMRANGEBYRANK', KEYS[2], 0, -(tonumber(ARGV[5]) + 1))
local cur = tonumber(redis.call('HGET', KEYS[1], 'sequence') or '0')
if seq <= cur then
  return 0
end
redis.call('HSET', KEYS[1], 'balance', ARGV[2], 'sequence', ARGV[1], 'currency', ARGV[4], 'updated_at', ARGV[3])
return 1
`)

// Head is the projected balance of one account
type Head struct {
	AccountID uuid.UUID
	Currency  valueobject.Currency
	Balance   decimal.Decimal
	Sequence  int64
	UpdatedAt time.Time
}

// RedisProjection applies TransactionCommitted events to a per-account Redis
// hash plus a bounded, time-scored history used for as-of reads
type RedisProjection struct {
	client     redis.UniversalClient
	keyPrefix  string
	historyLen int
	logger     *zap.Logger
}

// Option configures a RedisProjection
type Option func(*RedisProjection)

// WithKeyPrefix overrides the key prefix
func WithKeyPrefix(prefix string) Option {
	return func(p *RedisProjection) {
		p.keyPrefix = prefix
	}
}

// WithHistoryLen bounds how many entries are kept per account for as-of reads
func WithHistoryLen(n int) Option {
	return func(p *RedisProjection) {
		if n > 0 {
			p.historyLen = n
		}
	}
}

// NewRedisProjection creates a new RedisProjection
func NewRedisProjection(client redis.UniversalClient, logger *zap.Logger, opts ...Option) *RedisProjection {
	p := &RedisProjection{
		client:     client,
		keyPrefix:  defaultKeyPrefix,
		historyLen: defaultHistoryLen,
		logger:     logger.Named("projection"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisProjection) headKey(id uuid.UUID) string {
	return p.keyPrefix + id.String()
}

func (p *RedisProjection) historyKey(id uuid.UUID) string {
	return p.keyPrefix + id.String() + ":history"
}

// EventTypes implements shared.EventHandler
func (p *RedisProjection) EventTypes() []string {
	return []string{ledger.EventTypeTransactionCommitted}
}

// Handle implements shared.EventHandler
func (p *RedisProjection) Handle(ctx context.Context, event shared.DomainEvent) error {
	committed, ok := event.(*ledger.TransactionCommittedEvent)
	if !ok {
		return nil
	}
	score := strconv.FormatInt(committed.CommittedAt.UnixMilli(), 10)
	for _, e := range committed.Entries {
		moved, err := applyScript.Run(ctx, p.client,
			[]string{p.headKey(e.AccountID), p.historyKey(e.AccountID)},
			e.Sequence, e.BalanceAfter.String(), score, committed.Currency.String(), p.historyLen,
		).Int()
		if err != nil {
			return fmt.Errorf("failed to project entry for account %s: %w", e.AccountID, err)
		}
		if moved == 0 {
			p.logger.Debug("stale entry ignored",
				zap.String("account_id", e.AccountID.String()),
				zap.Int64("sequence", e.Sequence),
				zap.String("event_id", committed.EventID().String()))
		}
	}
	return nil
}

// Head returns the projected balance of an account, or nil when it has none
func (p *RedisProjection) Head(ctx context.Context, accountID uuid.UUID) (*Head, error) {
	fields, err := p.client.HGetAll(ctx, p.headKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read projection for %s: %w", accountID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	balance, err := decimal.NewFromString(fields["balance"])
	if err != nil {
		return nil, fmt.Errorf("corrupt projected balance for %s: %w", accountID, err)
	}
	seq, err := strconv.ParseInt(fields["sequence"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt projected sequence for %s: %w", accountID, err)
	}
	millis, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	currency, _ := valueobject.ParseCurrency(fields["currency"])
	return &Head{
		AccountID: accountID,
		Currency:  currency,
		Balance:   balance,
		Sequence:  seq,
		UpdatedAt: time.UnixMilli(millis).UTC(),
	}, nil
}

// Name implements reconciliation.Source
func (p *RedisProjection) Name() string {
	return SourceName
}

// BalanceOf implements reconciliation.BalanceSource. It returns the balance
// after the last entry committed at or before cutoff.
func (p *RedisProjection) BalanceOf(ctx context.Context, accountID uuid.UUID, currency valueobject.Currency, cutoff time.Time) (decimal.Decimal, bool, error) {
	head, err := p.Head(ctx, accountID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if head == nil || (head.Currency != "" && head.Currency != currency) {
		return decimal.Zero, false, nil
	}
	members, err := p.client.ZRevRangeByScore(ctx, p.historyKey(accountID), &redis.ZRangeBy{
		Max:   strconv.FormatInt(cutoff.UnixMilli(), 10),
		Min:   "-inf",
		Count: 1,
	}).Result()
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read projection history for %s: %w", accountID, err)
	}
	if len(members) == 0 {
		return decimal.Zero, false, nil
	}
	amount, err := parseHistoryMember(members[0])
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt projection history for %s: %w", accountID, err)
	}
	return amount, true, nil
}

// Reset drops the projection of the given accounts so it can be rebuilt
func (p *RedisProjection) Reset(ctx context.Context, accountIDs ...uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, p.headKey(id), p.historyKey(id))
	}
	return p.client.Del(ctx, keys...).Err()
}

var errMalformedMember = errors.New("malformed history member")

func parseHistoryMember(m string) (decimal.Decimal, error) {
	_, balance, ok := strings.Cut(m, "|")
	if !ok {
		return decimal.Zero, errMalformedMember
	}
	return decimal.NewFromString(balance)
}

var (
	_ shared.EventHandler          = (*RedisProjection)(nil)
	_ reconciliation.BalanceSource = (*RedisProjection)(nil)
)
