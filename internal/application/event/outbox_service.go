package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Outbox errors
var (
	ErrOutboxEntryNotFound = shared.NewDomainErrorOfKind(shared.ErrorKindNotFound, "OUTBOX_ENTRY_NOT_FOUND", "Outbox entry not found")
	ErrOutboxEntryNotDead  = shared.NewDomainErrorOfKind(shared.ErrorKindState, "OUTBOX_ENTRY_NOT_DEAD", "Only dead-lettered entries can be retried")
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// OutboxStore is the part of the outbox table operators work with
type OutboxStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error)
	FindDead(ctx context.Context, limit int) ([]*shared.OutboxEntry, error)
	Update(ctx context.Context, entry *shared.OutboxEntry) error
	CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error)
}

// OutboxService lets operators inspect delivery and requeue dead letters.
// Requeued entries are picked up by the outbox processor on its next poll.
type OutboxService struct {
	store  OutboxStore
	logger *zap.Logger
}

// NewOutboxService creates a new outbox service
func NewOutboxService(store OutboxStore, logger *zap.Logger) *OutboxService {
	return &OutboxService{store: store, logger: logger.Named("outbox_admin")}
}

// OutboxEntryView is an outbox entry without its payload
type OutboxEntryView struct {
	ID            uuid.UUID  `json:"id"`
	EventID       uuid.UUID  `json:"event_id"`
	EventType     string     `json:"event_type"`
	AggregateID   uuid.UUID  `json:"aggregate_id"`
	AggregateType string     `json:"aggregate_type"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	LastError     string     `json:"last_error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OutboxStats counts entries per delivery status
type OutboxStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
	Total      int64 `json:"total"`
}

// DeadLetters lists dead-lettered entries, most recently failed first
func (s *OutboxService) DeadLetters(ctx context.Context, limit int) ([]OutboxEntryView, error) {
	if limit <= 0 {
		limit = defaultDeadLetterLimit
	}
	limit = min(limit, maxDeadLetterLimit)

	entries, err := s.store.FindDead(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]OutboxEntryView, len(entries))
	for i, e := range entries {
		views[i] = newOutboxEntryView(e)
	}
	return views, nil
}

// GetEntry returns one entry
func (s *OutboxService) GetEntry(ctx context.Context, id uuid.UUID) (*OutboxEntryView, error) {
	entry, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	view := newOutboxEntryView(entry)
	return &view, nil
}

// Retry puts a dead entry back into the pending queue with a fresh attempt budget
func (s *OutboxService) Retry(ctx context.Context, id uuid.UUID) (*OutboxEntryView, error) {
	entry, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := entry.ResetForRetry(); err != nil {
		return nil, ErrOutboxEntryNotDead.WithDetail("status", string(entry.Status))
	}
	if err := s.store.Update(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("dead letter requeued",
		zap.String("entry_id", id.String()),
		zap.String("event_type", entry.EventType))
	view := newOutboxEntryView(entry)
	return &view, nil
}

// RetryAll requeues every dead entry and returns how many were requeued.
// Entries that fail to update are logged and left dead.
func (s *OutboxService) RetryAll(ctx context.Context) (int, error) {
	requeued := 0
	for {
		entries, err := s.store.FindDead(ctx, maxDeadLetterLimit)
		if err != nil {
			return requeued, err
		}
		progressed := false
		for _, entry := range entries {
			if err := entry.ResetForRetry(); err != nil {
				continue
			}
			if err := s.store.Update(ctx, entry); err != nil {
				s.logger.Warn("failed to requeue dead letter",
					zap.String("entry_id", entry.ID.String()),
					zap.Error(err))
				continue
			}
			requeued++
			progressed = true
		}
		if len(entries) < maxDeadLetterLimit || !progressed {
			break
		}
	}

	s.logger.Info("dead letters requeued", zap.Int("count", requeued))
	return requeued, nil
}

// Stats counts entries per status
func (s *OutboxService) Stats(ctx context.Context) (*OutboxStats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &OutboxStats{
		Pending:    counts[shared.OutboxStatusPending],
		Processing: counts[shared.OutboxStatusProcessing],
		Sent:       counts[shared.OutboxStatusSent],
		Failed:     counts[shared.OutboxStatusFailed],
		Dead:       counts[shared.OutboxStatusDead],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

func (s *OutboxService) find(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	entry, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrOutboxEntryNotFound
	}
	return entry, nil
}

func newOutboxEntryView(e *shared.OutboxEntry) OutboxEntryView {
	return OutboxEntryView{
		ID:            e.ID,
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Status:        string(e.Status),
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		LastError:     e.LastError,
		NextRetryAt:   e.NextRetryAt,
		ProcessedAt:   e.ProcessedAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
