package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const pingTimeout = 3 * time.Second

// ConnectionStats is a snapshot of the connection pool
type ConnectionStats = sql.DBStats

// Database is the ledger's Postgres handle
type Database struct {
	DB *gorm.DB
}

// NewDatabaseWithZap opens the pool described by cfg and routes GORM's SQL
// log through zap. Statements slower than slowThreshold log as warnings,
// which is where lock waits on account rows show up.
func NewDatabaseWithZap(cfg *config.DatabaseConfig, zapLogger *zap.Logger, level string, slowThreshold time.Duration) (*Database, error) {
	gormLogger := logger.NewGormLogger(zapLogger, logger.MapGormLogLevel(level), logger.WithSlowThreshold(slowThreshold))
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	d := &Database{DB: db}

	sqlDB, err := d.sqlDB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := d.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) sqlDB() (*sql.DB, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql.DB: %w", err)
	}
	return sqlDB, nil
}

// Ping checks the database answers within a few seconds
func (d *Database) Ping() error {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Stats returns pool statistics
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return ConnectionStats{}, err
	}
	return sqlDB.Stats(), nil
}

// Close releases every pooled connection
func (d *Database) Close() error {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
