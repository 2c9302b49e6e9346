package audit

import (
	"context"

	"github.com/google/uuid"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	"github.com/tradeledger/backend/internal/domain/audit"
	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Page is one page of audit entries
type Page struct {
	Entries  []audit.Entry `json:"entries"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// Service answers audit trail queries. Entries are written by the services
// whose state changes they record, never through this service.
type Service struct {
	scope  appledger.TransactionScope
	logger *zap.Logger
}

// NewService creates a new audit query Service
func NewService(scope appledger.TransactionScope, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{scope: scope, logger: logger}
}

// ListByEntity lists the history of one entity, newest first
func (s *Service) ListByEntity(ctx context.Context, entityType string, id uuid.UUID, page shared.Filter) (*Page, error) {
	if entityType == "" {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", "Entity type is required")
	}
	return s.List(ctx, audit.Filter{Filter: page, EntityType: entityType, EntityID: &id})
}

// List lists entries matching the filter
func (s *Service) List(ctx context.Context, filter audit.Filter) (*Page, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, shared.NewDomainError("INVALID_TIME_RANGE", "From must be before to")
	}
	if filter.OrderBy == "" {
		filter.OrderBy = "occurred_at"
	}
	if filter.OrderDir == "" {
		filter.OrderDir = "desc"
	}
	normalized := filter.Filter.Normalize()

	return appledger.ReadWithResult(ctx, s.scope, func(repos appledger.TransactionalRepositories) (*Page, error) {
		entries, total, err := repos.Audit().FindAll(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &Page{Entries: entries, Total: total, Page: normalized.Page, PageSize: normalized.PageSize}, nil
	})
}
