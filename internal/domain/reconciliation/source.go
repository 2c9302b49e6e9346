package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared/valueobject"
)

// Source is an external or internal system whose figures are checked
// against the ledger. Sources are never written back to by reconciliation.
type Source interface {
	Name() string
}

// BalanceSource reports account balances
type BalanceSource interface {
	Source
	// BalanceOf returns the balance the source holds for an account as of
	// cutoff; ok is false when the source does not track the account
	BalanceOf(ctx context.Context, accountID uuid.UUID, currency valueobject.Currency, cutoff time.Time) (amount decimal.Decimal, ok bool, err error)
}

// TradeSource reports settled trade amounts
type TradeSource interface {
	Source
	// SettledAmount returns what the source recorded as settled for a trade;
	// ok is false when the source has no record of it
	SettledAmount(ctx context.Context, tradeID uuid.UUID) (amount decimal.Decimal, ok bool, err error)
}

// Alerter raises operational alerts for discrepancies above threshold
type Alerter interface {
	Alert(ctx context.Context, run *Run, d *Discrepancy) error
}
