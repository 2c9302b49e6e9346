package router

import (
	"github.com/tradeledger/backend/internal/infrastructure/auth"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
)

// LedgerHandlers are the handlers behind the versioned ledger API
type LedgerHandlers struct {
	Accounts        *handler.AccountHandler
	Transactions    *handler.TransactionHandler
	Orders          *handler.OrderHandler
	Settlements     *handler.SettlementHandler
	Reconciliations *handler.ReconciliationHandler
	Audit           *handler.AuditHandler
	Outbox          *handler.OutboxHandler
}

// LedgerRoutes builds the ledger's route groups. Reads require the reader
// role and every state change requires the admin role.
func LedgerRoutes(h LedgerHandlers) []RouteRegistrar {
	read := middleware.RequireRole(auth.RoleReader)
	write := middleware.RequireRole(auth.RoleAdmin)

	accounts := NewDomainGroup("accounts", "/accounts").
		POST("", write, h.Accounts.Open).
		GET("", read, h.Accounts.List).
		GET("/:id", read, h.Accounts.Get).
		GET("/:id/balance", read, h.Accounts.Balance).
		GET("/:id/entries", read, h.Accounts.Entries).
		GET("/:id/chain", read, h.Accounts.VerifyChain).
		POST("/:id/freeze", write, h.Accounts.Freeze).
		POST("/:id/unfreeze", write, h.Accounts.Unfreeze).
		POST("/:id/suspend", write, h.Accounts.Suspend).
		POST("/:id/reinstate", write, h.Accounts.Reinstate).
		POST("/:id/close", write, h.Accounts.Close)

	transactions := NewDomainGroup("transactions", "/transactions").
		POST("", write, h.Transactions.Create).
		GET("", read, h.Transactions.List).
		GET("/:id", read, h.Transactions.Get).
		POST("/:id/reverse", write, h.Transactions.Reverse)

	adjustments := NewDomainGroup("adjustments", "/adjustments").
		POST("", write, h.Transactions.Adjust)

	orders := NewDomainGroup("orders", "/orders").
		POST("", write, h.Orders.Place).
		GET("/:id", read, h.Orders.Get).
		POST("/:id/accept", write, h.Orders.Accept).
		POST("/:id/reject", write, h.Orders.Reject).
		POST("/:id/cancel", write, h.Orders.Cancel)

	trades := NewDomainGroup("trades", "/trades").
		POST("", write, h.Orders.RecordTrade)

	settlements := NewDomainGroup("settlements", "/settlements").
		GET("/:id", read, h.Settlements.Get).
		POST("/:id/settle", write, h.Settlements.Settle).
		POST("/:id/rollback", write, h.Settlements.Rollback)

	reconciliations := NewDomainGroup("reconciliations", "/reconciliations").
		POST("", write, h.Reconciliations.Start).
		GET("", read, h.Reconciliations.List).
		GET("/:id", read, h.Reconciliations.Get).
		GET("/:id/report", read, h.Reconciliations.Report)

	auditTrail := NewDomainGroup("audit", "/audit").
		GET("", read, h.Audit.List)

	outbox := NewDomainGroup("outbox", "/outbox").
		GET("/stats", read, h.Outbox.Stats).
		GET("/dead-letters", read, h.Outbox.DeadLetters).
		POST("/dead-letters/retry", write, h.Outbox.RetryAll).
		GET("/entries/:id", read, h.Outbox.Get).
		POST("/entries/:id/retry", write, h.Outbox.Retry)

	return []RouteRegistrar{accounts, transactions, adjustments, orders, trades, settlements, reconciliations, auditTrail, outbox}
}
