package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"go.uber.org/zap"
)

// PartnerSourceName is the registry name of the partner statement source
const PartnerSourceName = "partner"

const defaultStatementRefresh = 5 * time.Minute

// PartnerStatementSource reports what the settlement partner says was settled
// per trade. Statements are CSV files under a prefix with the header
// trade_id,settled_amount; later statements (by key order) override earlier
// ones for the same trade.
type PartnerStatementSource struct {
	store   ObjectStore
	prefix  string
	refresh time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	settled  map[uuid.UUID]decimal.Decimal
	loadedAt time.Time
}

// PartnerSourceOption configures a PartnerStatementSource
type PartnerSourceOption func(*PartnerStatementSource)

// WithStatementRefresh sets how long loaded statements are reused
func WithStatementRefresh(d time.Duration) PartnerSourceOption {
	return func(s *PartnerStatementSource) {
		s.refresh = d
	}
}

// NewPartnerStatementSource creates a source reading statements under prefix
func NewPartnerStatementSource(store ObjectStore, prefix string, logger *zap.Logger, opts ...PartnerSourceOption) *PartnerStatementSource {
	s := &PartnerStatementSource{
		store:   store,
		prefix:  prefix,
		refresh: defaultStatementRefresh,
		logger:  logger.Named("partner-source"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements reconciliation.Source
func (s *PartnerStatementSource) Name() string {
	return PartnerSourceName
}

// SettledAmount implements reconciliation.TradeSource
func (s *PartnerStatementSource) SettledAmount(ctx context.Context, tradeID uuid.UUID) (decimal.Decimal, bool, error) {
	settled, err := s.statements(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}
	amount, ok := settled[tradeID]
	return amount, ok, nil
}

// Reload drops the cached statements so the next lookup re-reads them
func (s *PartnerStatementSource) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = nil
}

func (s *PartnerStatementSource) statements(ctx context.Context) (map[uuid.UUID]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled != nil && s.now().Sub(s.loadedAt) < s.refresh {
		return s.settled, nil
	}

	keys, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list partner statements: %w", err)
	}
	settled := make(map[uuid.UUID]decimal.Decimal)
	for _, key := range keys {
		if !strings.HasSuffix(strings.ToLower(key), ".csv") {
			continue
		}
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read partner statement %s: %w", key, err)
		}
		rows, err := parseStatement(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		for id, amount := range rows {
			settled[id] = amount
		}
	}
	s.logger.Debug("partner statements loaded",
		zap.Int("files", len(keys)),
		zap.Int("trades", len(settled)))
	s.settled = settled
	s.loadedAt = s.now()
	return settled, nil
}

// parseStatement reads trade_id,settled_amount rows; extra columns are ignored
func parseStatement(data []byte) (map[uuid.UUID]decimal.Decimal, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return map[uuid.UUID]decimal.Decimal{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}
	idCol, amountCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "trade_id":
			idCol = i
		case "settled_amount":
			amountCol = i
		}
	}
	if idCol < 0 || amountCol < 0 {
		return nil, fmt.Errorf("%w: header must name trade_id and settled_amount", ErrMalformedStatement)
	}

	rows := make(map[uuid.UUID]decimal.Decimal)
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedStatement, line, err)
		}
		if len(record) <= idCol || len(record) <= amountCol {
			return nil, fmt.Errorf("%w: line %d: missing columns", ErrMalformedStatement, line)
		}
		id, err := uuid.Parse(strings.TrimSpace(record[idCol]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad trade_id", ErrMalformedStatement, line)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(record[amountCol]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad settled_amount", ErrMalformedStatement, line)
		}
		rows[id] = amount
	}
	return rows, nil
}

var _ reconciliation.TradeSource = (*PartnerStatementSource)(nil)
