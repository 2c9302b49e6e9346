// Package models holds the GORM rows behind the ledger's repositories.
// Domain types never carry GORM tags; each row type converts to and from
// its aggregate with ToDomain and FromDomain.
//
// The SQL migrations own the production schema. All() lists every row type
// so in-memory test databases can be built with AutoMigrate.
package models
