package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

// SQLSTATE codes the posting executor retries on.
var retryableSQLStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// GormLogger routes GORM's statement log into zap, tagged with the
// request correlation fields carried by the context.
type GormLogger struct {
	logger                      *zap.Logger
	logLevel                    gormlogger.LogLevel
	slowThreshold               time.Duration
	ignoreRecordNotFoundError   bool
	ignoreSerializationFailures bool
}

type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a statement is logged as slow.
// Zero disables slow statement logging.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) { l.slowThreshold = threshold }
}

func WithIgnoreRecordNotFoundError(ignore bool) GormLoggerOption {
	return func(l *GormLogger) { l.ignoreRecordNotFoundError = ignore }
}

// WithIgnoreSerializationFailures logs retryable conflicts at debug instead of error.
func WithIgnoreSerializationFailures(ignore bool) GormLoggerOption {
	return func(l *GormLogger) { l.ignoreSerializationFailures = ignore }
}

func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	l := &GormLogger{
		logger:                      zapLogger.Named("gorm"),
		logLevel:                    level,
		slowThreshold:               defaultSlowThreshold,
		ignoreRecordNotFoundError:   true,
		ignoreSerializationFailures: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) printf(min gormlogger.LogLevel, lvl zapcore.Level, msg string, data []any) {
	if l.logLevel < min {
		return
	}
	l.logger.Sugar().Logf(lvl, msg, data...)
}

// Trace logs one executed statement. Failures win over slowness, and plain
// statements are only logged in Info mode at zap debug level.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	msg, lvl, ok := l.classify(elapsed, err)
	if !ok {
		return
	}

	sql, rows := fc()
	fields := make([]zap.Field, 0, 6)
	fields = append(fields,
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	fields = append(fields, ContextFields(ctx)...)

	if ce := l.logger.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (l *GormLogger) classify(elapsed time.Duration, err error) (string, zapcore.Level, bool) {
	switch {
	case err != nil:
		if l.logLevel < gormlogger.Error {
			return "", 0, false
		}
		if l.ignoreRecordNotFoundError && errors.Is(err, gormlogger.ErrRecordNotFound) {
			return "", 0, false
		}
		if l.ignoreSerializationFailures && isSerializationFailure(err) {
			return "sql serialization conflict", zapcore.DebugLevel, true
		}
		return "sql statement failed", zapcore.ErrorLevel, true
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		if l.logLevel < gormlogger.Warn {
			return "", 0, false
		}
		return "slow sql statement over " + l.slowThreshold.String(), zapcore.WarnLevel, true
	case l.logLevel >= gormlogger.Info:
		return "sql statement", zapcore.DebugLevel, true
	}
	return "", 0, false
}

// isSerializationFailure reports whether err is a PostgreSQL serialization
// failure or deadlock.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	_, ok := retryableSQLStates[pgErr.Code]
	return ok
}

// MapGormLogLevel converts a configured level name. "debug" enables
// statement logging; unknown names fall back to warn.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	}
	return gormlogger.Warn
}
