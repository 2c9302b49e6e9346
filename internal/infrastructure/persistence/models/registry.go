package models

// All returns every persistence model in dependency order
func All() []any {
	return []any{
		&AccountModel{},
		&LedgerTransactionModel{},
		&LedgerEntryModel{},
		&EscrowHoldModel{},
		&IdempotencyKeyModel{},
		&OrderModel{},
		&TradeModel{},
		&SettlementModel{},
		&ReconciliationRunModel{},
		&ReconciliationDiscModel{},
		&AuditEntryModel{},
		&OutboxEntryModel{},
	}
}
