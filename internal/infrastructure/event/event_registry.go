package event

import (
	"github.com/tradeledger/backend/internal/domain/ledger"
	"github.com/tradeledger/backend/internal/domain/reconciliation"
	"github.com/tradeledger/backend/internal/domain/trading"
)

// RegisterAllEvents registers all domain event types with the serializer
// This is required for the OutboxProcessor to deserialize events from the outbox table
func RegisterAllEvents(serializer *EventSerializer) {
	// Ledger domain - account events
	serializer.Register("AccountOpened", &ledger.AccountOpenedEvent{})
	serializer.Register("AccountStatusChanged", &ledger.AccountStatusChangedEvent{})

	// Ledger domain - transaction events
	serializer.Register(ledger.EventTypeTransactionCommitted, &ledger.TransactionCommittedEvent{})
	serializer.Register(ledger.EventTypeTransactionFailed, &ledger.TransactionFailedEvent{})
	serializer.Register(ledger.EventTypeTransactionReversed, &ledger.TransactionReversedEvent{})

	// Trading domain events
	serializer.Register(trading.EventTypeOrderPlaced, &trading.OrderPlacedEvent{})
	serializer.Register(trading.EventTypeOrderStatusChanged, &trading.OrderStatusChangedEvent{})
	serializer.Register(trading.EventTypeTradeExecuted, &trading.TradeExecutedEvent{})
	serializer.Register(trading.EventTypeSettlementStatusChanged, &trading.SettlementStatusChangedEvent{})

	// Reconciliation domain events
	serializer.Register(reconciliation.EventTypeRunCompleted, &reconciliation.RunCompletedEvent{})
	serializer.Register(reconciliation.EventTypeDiscrepancyFlagged, &reconciliation.DiscrepancyFlaggedEvent{})
}
