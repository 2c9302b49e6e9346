package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQuery = 200 * time.Millisecond

type queryStartKey struct{ plugin string }

// registerQueryHooks installs before/after callbacks around every GORM
// statement kind. after receives the SQL verb the statement maps to.
func registerQueryHooks(db *gorm.DB, name string, after func(tx *gorm.DB, verb string)) error {
	key := queryStartKey{plugin: name}
	before := func(tx *gorm.DB) {
		ctx := tx.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tx.Statement.Context = context.WithValue(ctx, key, time.Now())
	}
	afterVerb := func(verb string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v := verb
			if v == "" {
				v = sqlVerb(tx.Statement.SQL.String())
			}
			after(tx, v)
		}
	}

	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register(name+":before_create", before),
		cb.Query().Before("gorm:query").Register(name+":before_query", before),
		cb.Update().Before("gorm:update").Register(name+":before_update", before),
		cb.Delete().Before("gorm:delete").Register(name+":before_delete", before),
		cb.Row().Before("gorm:row").Register(name+":before_row", before),
		cb.Raw().Before("gorm:raw").Register(name+":before_raw", before),
		cb.Create().After("gorm:create").Register(name+":after_create", afterVerb("INSERT")),
		cb.Query().After("gorm:query").Register(name+":after_query", afterVerb("SELECT")),
		cb.Update().After("gorm:update").Register(name+":after_update", afterVerb("UPDATE")),
		cb.Delete().After("gorm:delete").Register(name+":after_delete", afterVerb("DELETE")),
		cb.Row().After("gorm:row").Register(name+":after_row", afterVerb("")),
		cb.Raw().After("gorm:raw").Register(name+":after_raw", afterVerb("")),
	)
}

func queryElapsed(tx *gorm.DB, name string) (time.Duration, bool) {
	if tx.Statement.Context == nil {
		return 0, false
	}
	start, ok := tx.Statement.Context.Value(queryStartKey{plugin: name}).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(start), true
}

// sqlVerb returns the leading keyword of a raw statement
func sqlVerb(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	switch verb := strings.ToUpper(fields[0]); verb {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "WITH":
		return verb
	default:
		return "OTHER"
	}
}

// DBTracingConfig holds database tracing configuration.
type DBTracingConfig struct {
	// LogFullSQL keeps bound variables in db.statement
	LogFullSQL         bool
	SlowQueryThreshold time.Duration
	DBName             string
}

// RegisterDBTracing installs otelgorm plus a hook that tags slow and failed
// statements on their span.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	threshold := cfg.SlowQueryThreshold
	if threshold <= 0 {
		threshold = defaultSlowQuery
	}
	err := registerQueryHooks(db, "ledger_tracing", func(tx *gorm.DB, _ string) {
		span := trace.SpanFromContext(tx.Statement.Context)
		if !span.IsRecording() {
			return
		}
		if tx.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
		}
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			span.RecordError(tx.Error)
			span.SetStatus(codes.Error, tx.Error.Error())
		}
		if elapsed, ok := queryElapsed(tx, "ledger_tracing"); ok && elapsed > threshold {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.duration_ms", elapsed.Milliseconds()),
			)
		}
	})
	if err != nil {
		return err
	}
	logger.Info("Database tracing enabled", zap.Bool("log_full_sql", cfg.LogFullSQL))
	return nil
}

// DBMetricsConfig holds database metrics configuration.
type DBMetricsConfig struct {
	SlowQueryThreshold time.Duration
	PoolStatsInterval  time.Duration
}

// DBMetrics records statement counts, latency and connection pool usage.
// It is a GORM plugin.
type DBMetrics struct {
	queries       *Counter
	queryDuration *Histogram
	slowQueries   *Counter
	poolConns     *Gauge
	poolMaxConns  *Gauge

	cfg    DBMetricsConfig
	logger *zap.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDBMetrics registers the database instruments on meter
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = defaultSlowQuery
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}
	m := &DBMetrics{cfg: cfg, logger: logger, stop: make(chan struct{})}

	var err error
	if m.queries, err = NewCounter(meter, "db.queries", "Statements executed by SQL verb", "{queries}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db.query.duration",
		Description: "Statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueries, err = NewCounter(meter, "db.slow_queries", "Statements slower than the threshold by table", "{queries}"); err != nil {
		return nil, err
	}
	if m.poolConns, err = NewGauge(meter, "db.pool.connections", "Pool connections by state", "{connections}"); err != nil {
		return nil, err
	}
	if m.poolMaxConns, err = NewGauge(meter, "db.pool.connections.max", "Pool connection limit", "{connections}"); err != nil {
		return nil, err
	}
	return m, nil
}

// Name implements gorm.Plugin
func (m *DBMetrics) Name() string { return "ledger_db_metrics" }

// Initialize implements gorm.Plugin
func (m *DBMetrics) Initialize(db *gorm.DB) error {
	return registerQueryHooks(db, m.Name(), func(tx *gorm.DB, verb string) {
		elapsed, ok := queryElapsed(tx, m.Name())
		if !ok {
			return
		}
		m.RecordQuery(tx.Statement.Context, verb, tx.Statement.Table, elapsed)
	})
}

// RecordQuery records one statement
func (m *DBMetrics) RecordQuery(ctx context.Context, verb, table string, elapsed time.Duration) {
	op := AttrDBOperation.String(verb)
	m.queries.Inc(ctx, op)
	m.queryDuration.RecordDuration(ctx, elapsed, op)
	if elapsed > m.cfg.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueries.Inc(ctx, AttrDBTable.String(table))
	}
}

// WatchPool samples sqlDB pool stats until Stop or ctx is done
func (m *DBMetrics) WatchPool(ctx context.Context, sqlDB *sql.DB) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.PoolStatsInterval)
		defer ticker.Stop()
		for {
			m.recordPool(ctx, sqlDB.Stats())
			select {
			case <-ticker.C:
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *DBMetrics) recordPool(ctx context.Context, s sql.DBStats) {
	m.poolMaxConns.Record(ctx, int64(s.MaxOpenConnections))
	m.poolConns.Record(ctx, int64(s.InUse), AttrDBState.String("in_use"))
	m.poolConns.Record(ctx, int64(s.Idle), AttrDBState.String("idle"))
	m.poolConns.Record(ctx, int64(s.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool sampling
func (m *DBMetrics) Stop() {
	m.once.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
}

var _ gorm.Plugin = (*DBMetrics)(nil)
