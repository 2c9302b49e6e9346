package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func sqlFunc(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestNewGormLogger_Options(t *testing.T) {
	gormLog := NewGormLogger(zap.NewNop(), gormlogger.Info,
		WithSlowThreshold(500*time.Millisecond),
		WithIgnoreRecordNotFoundError(false),
		WithIgnoreSerializationFailures(false),
	)
	assert.Equal(t, 500*time.Millisecond, gormLog.slowThreshold)
	assert.False(t, gormLog.ignoreRecordNotFoundError)
	assert.False(t, gormLog.ignoreSerializationFailures)

	defaults := NewGormLogger(zap.NewNop(), gormlogger.Warn)
	assert.True(t, defaults.ignoreRecordNotFoundError)
	assert.True(t, defaults.ignoreSerializationFailures)
}

func TestGormLogger_LogMode(t *testing.T) {
	gormLog := NewGormLogger(zap.NewNop(), gormlogger.Info)
	changed, ok := gormLog.LogMode(gormlogger.Warn).(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Warn, changed.logLevel)
	assert.Equal(t, gormlogger.Info, gormLog.logLevel, "original unchanged")
}

func TestGormLogger_Printf(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gormLog := NewGormLogger(zap.New(core), gormlogger.Warn)
	ctx := context.Background()

	gormLog.Info(ctx, "suppressed %d", 1)
	gormLog.Warn(ctx, "warn %s", "x")
	gormLog.Error(ctx, "error %s", "y")

	entries := recorded.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "warn x", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestGormLogger_Trace(t *testing.T) {
	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		opts    []GormLoggerOption
		elapsed time.Duration
		err     error
		wantMsg string
		wantLvl zapcore.Level
	}{
		{name: "error", level: gormlogger.Error, err: errors.New("boom"), wantMsg: "sql statement failed", wantLvl: zapcore.ErrorLevel},
		{name: "record not found ignored", level: gormlogger.Error, err: gormlogger.ErrRecordNotFound},
		{name: "serialization failure demoted", level: gormlogger.Error, err: &pgconn.PgError{Code: "40001"}, wantMsg: "sql serialization conflict", wantLvl: zapcore.DebugLevel},
		{name: "deadlock demoted", level: gormlogger.Error, err: &pgconn.PgError{Code: "40P01"}, wantMsg: "sql serialization conflict", wantLvl: zapcore.DebugLevel},
		{name: "serialization failure reported", level: gormlogger.Error, opts: []GormLoggerOption{WithIgnoreSerializationFailures(false)}, err: &pgconn.PgError{Code: "40001"}, wantMsg: "sql statement failed", wantLvl: zapcore.ErrorLevel},
		{name: "slow query", level: gormlogger.Warn, opts: []GormLoggerOption{WithSlowThreshold(time.Nanosecond)}, elapsed: time.Second, wantMsg: "slow sql statement over 1ns", wantLvl: zapcore.WarnLevel},
		{name: "normal query", level: gormlogger.Info, wantMsg: "sql statement", wantLvl: zapcore.DebugLevel},
		{name: "silent", level: gormlogger.Silent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			gormLog := NewGormLogger(zap.New(core), tt.level, tt.opts...)

			gormLog.Trace(context.Background(), time.Now().Add(-tt.elapsed), sqlFunc("SELECT * FROM ledger_entries", 3), tt.err)

			if tt.wantMsg == "" {
				assert.Zero(t, recorded.Len())
				return
			}
			entries := recorded.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantMsg, entries[0].Message)
			assert.Equal(t, tt.wantLvl, entries[0].Level)
		})
	}
}

func TestGormLogger_Trace_ContextFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gormLog := NewGormLogger(zap.New(core), gormlogger.Info)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, ActorKey, "system:reconciler")
	gormLog.Trace(ctx, time.Now(), sqlFunc("SELECT 1", 1), nil)

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "system:reconciler", fields["actor"])
	assert.Equal(t, "SELECT 1", fields["sql"])
}

func TestMapGormLogLevel(t *testing.T) {
	tests := map[string]gormlogger.LogLevel{
		"silent":  gormlogger.Silent,
		"error":   gormlogger.Error,
		"warn":    gormlogger.Warn,
		"info":    gormlogger.Info,
		"debug":   gormlogger.Info,
		" Error ": gormlogger.Error,
		"unknown": gormlogger.Warn,
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, MapGormLogLevel(input))
		})
	}
}

var _ gormlogger.Interface = (*GormLogger)(nil)
