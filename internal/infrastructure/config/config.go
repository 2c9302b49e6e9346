package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_DATABASE_PASSWORD.
const EnvPrefix = "LEDGER"

// Config is the full process configuration.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Log            LogConfig            `mapstructure:"log"`
	Event          EventConfig          `mapstructure:"event"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Swagger        SwaggerConfig        `mapstructure:"swagger"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr, or file path
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig describes the Postgres connection and pool.
// ConnMaxLifetime and ConnMaxIdleTime are minutes.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// AllowFallback lets the process run on in-memory caches when Redis is down
	AllowFallback bool `mapstructure:"allow_fallback"`
}

type JWTConfig struct {
	Secret                string        `mapstructure:"secret"`
	AccessTokenExpiration time.Duration `mapstructure:"access_token_expiration"`
	Issuer                string        `mapstructure:"issuer"`
}

// EventConfig drives the outbox processor and consumer dedupe.
type EventConfig struct {
	ProcessorEnabled bool          `mapstructure:"processor_enabled"`
	BatchSize        int           `mapstructure:"batch_size"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxRetries       int           `mapstructure:"max_retries"`
	CleanupEnabled   bool          `mapstructure:"cleanup_enabled"`
	CleanupRetention time.Duration `mapstructure:"cleanup_retention"`
	DedupeTTL        time.Duration `mapstructure:"dedupe_ttl"`
}

type HTTPConfig struct {
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	MaxBodySize       int64         `mapstructure:"max_body_size"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	// An empty origin list allows no cross-origin requests.
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	CORSAllowMethods []string `mapstructure:"cors_allow_methods"`
	CORSAllowHeaders []string `mapstructure:"cors_allow_headers"`
	TrustedProxies   []string `mapstructure:"trusted_proxies"`
}

// LedgerConfig holds posting retry and trading settings.
type LedgerConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxJitter      time.Duration `mapstructure:"max_jitter"`
	SnapshotMaxAge time.Duration `mapstructure:"snapshot_max_age"`
	SnapshotTTL    time.Duration `mapstructure:"snapshot_ttl"`
	FeeRateBps     int64         `mapstructure:"fee_rate_bps"`
	SettlementType string        `mapstructure:"settlement_type"` // INSTANT, STANDARD, DEFERRED
}

type ReconciliationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// AutoCorrectThreshold is parsed separately so amounts never pass through float64.
	AutoCorrectThreshold decimal.Decimal `mapstructure:"-"`
	PageSize             int             `mapstructure:"page_size"`
	BalanceInterval      time.Duration   `mapstructure:"balance_interval"`
	TradeInterval        time.Duration   `mapstructure:"trade_interval"`
	CheckInterval        time.Duration   `mapstructure:"check_interval"`
	SettlementGrace      time.Duration   `mapstructure:"settlement_grace"`
	Sources              []string        `mapstructure:"sources"`
	ArchiveReports       bool            `mapstructure:"archive_reports"`
}

type SchedulerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MaxConcurrentJobs   int           `mapstructure:"max_concurrent_jobs"`
	JobTimeout          time.Duration `mapstructure:"job_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	SettlementInterval  time.Duration `mapstructure:"settlement_interval"`
	OrderExpiryInterval time.Duration `mapstructure:"order_expiry_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"` // defaults to App.Name
}

// StorageConfig points at an S3-compatible bucket for statements and reports.
type StorageConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Endpoint          string        `mapstructure:"endpoint"`
	Bucket            string        `mapstructure:"bucket"`
	AccessKey         string        `mapstructure:"access_key"`
	SecretKey         string        `mapstructure:"secret_key"`
	Region            string        `mapstructure:"region"`
	UseSSL            bool          `mapstructure:"use_ssl"`
	UsePathStyle      bool          `mapstructure:"use_path_style"`
	PresignExpiration time.Duration `mapstructure:"presign_expiration"`
	StatementPrefix   string        `mapstructure:"statement_prefix"`
	ReportPrefix      string        `mapstructure:"report_prefix"`
}

type SwaggerConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	RequireAuth bool     `mapstructure:"require_auth"`
	AllowedIPs  []string `mapstructure:"allowed_ips"` // empty allows every address
}

type TelemetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"` // OTLP gRPC, e.g. localhost:4317
	SamplingRatio     float64 `mapstructure:"sampling_ratio"`
	ServiceName       string  `mapstructure:"service_name"`
	Insecure          bool    `mapstructure:"insecure"`

	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`

	ProfilingEnabled bool   `mapstructure:"profiling_enabled"`
	PyroscopeURL     string `mapstructure:"pyroscope_url"`
}

// defaults lists every key Load understands. A key has to be registered
// here for AutomaticEnv to reach it through Unmarshal.
var defaults = map[string]any{
	"app.name": "ledger-backend",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "ledger",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.enabled":        false,
	"redis.host":           "localhost",
	"redis.port":           6379,
	"redis.password":       "",
	"redis.db":             0,
	"redis.allow_fallback": true,

	"jwt.secret":                  "",
	"jwt.access_token_expiration": 15 * time.Minute,
	"jwt.issuer":                  "ledger-backend",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"event.processor_enabled": true,
	"event.batch_size":        100,
	"event.poll_interval":     time.Second,
	"event.max_retries":       5,
	"event.cleanup_enabled":   true,
	"event.cleanup_retention": 7 * 24 * time.Hour,
	"event.dedupe_ttl":        24 * time.Hour,

	"http.read_timeout":        15 * time.Second,
	"http.write_timeout":       15 * time.Second,
	"http.idle_timeout":        time.Minute,
	"http.max_header_bytes":    1 << 20,
	"http.max_body_size":       int64(1 << 20),
	"http.rate_limit_enabled":  false,
	"http.rate_limit_requests": 100,
	"http.rate_limit_window":   time.Minute,
	"http.cors_allow_origins":  []string{},
	"http.cors_allow_methods":  []string{"GET", "POST", "OPTIONS"},
	"http.cors_allow_headers":  []string{"Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"},
	"http.trusted_proxies":     []string{},

	"ledger.max_retries":      5,
	"ledger.base_delay":       20 * time.Millisecond,
	"ledger.max_jitter":       20 * time.Millisecond,
	"ledger.snapshot_max_age": 5 * time.Minute,
	"ledger.snapshot_ttl":     30 * time.Minute,
	"ledger.fee_rate_bps":     int64(0),
	"ledger.settlement_type":  "STANDARD",

	"reconciliation.enabled":                true,
	"reconciliation.auto_correct_threshold": "1",
	"reconciliation.page_size":              500,
	"reconciliation.balance_interval":       time.Hour,
	"reconciliation.trade_interval":         6 * time.Hour,
	"reconciliation.check_interval":         time.Minute,
	"reconciliation.settlement_grace":       time.Hour,
	"reconciliation.sources":                []string{"projection"},
	"reconciliation.archive_reports":        false,

	"scheduler.enabled":               true,
	"scheduler.max_concurrent_jobs":   3,
	"scheduler.job_timeout":           30 * time.Minute,
	"scheduler.retry_attempts":        3,
	"scheduler.retry_delay":           time.Minute,
	"scheduler.settlement_interval":   30 * time.Second,
	"scheduler.order_expiry_interval": time.Minute,
	"scheduler.batch_size":            100,

	"kafka.enabled":   false,
	"kafka.brokers":   []string{},
	"kafka.topic":     "ledger.events",
	"kafka.client_id": "",

	"storage.enabled":            false,
	"storage.endpoint":           "",
	"storage.bucket":             "",
	"storage.access_key":         "",
	"storage.secret_key":         "",
	"storage.region":             "us-east-1",
	"storage.use_ssl":            false,
	"storage.use_path_style":     true,
	"storage.presign_expiration": 15 * time.Minute,
	"storage.statement_prefix":   "statements/",
	"storage.report_prefix":      "reconciliation/",

	"swagger.enabled":      false,
	"swagger.require_auth": false,
	"swagger.allowed_ips":  []string{},

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "ledger-backend",
	"telemetry.insecure":                false,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
	"telemetry.profiling_enabled":       false,
	"telemetry.pyroscope_url":           "",
}

// Load reads config.toml (if any) and LEDGER_* environment overrides on top
// of the built-in defaults. Environment wins over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, dir := range []string{".", "./backend", "/app"} {
		v.AddConfigPath(dir)
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.DecodeHookFuncType(whitespaceListHook),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	threshold, err := parseDecimal(v.GetString("reconciliation.auto_correct_threshold"))
	if err != nil {
		return nil, fmt.Errorf("reconciliation.auto_correct_threshold: %w", err)
	}
	cfg.Reconciliation.AutoCorrectThreshold = threshold

	if err := restoreZeroed(cfg); err != nil {
		return nil, err
	}
	cfg.Ledger.SettlementType = strings.ToUpper(cfg.Ledger.SettlementType)
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.App.Name
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// whitespaceListHook splits env-provided lists on whitespace, the same way
// viper's GetStringSlice does.
func whitespaceListHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeFor[[]string]() {
		return data, nil
	}
	return strings.Fields(reflect.ValueOf(data).String()), nil
}

// restoreZeroed puts the default back into any non-bool setting that was
// explicitly set to its zero value. Booleans are left alone so "false" can
// switch off a default-on feature.
func restoreZeroed(cfg *Config) error {
	base := viper.New()
	for key, value := range defaults {
		base.SetDefault(key, value)
	}
	var fallback Config
	if err := base.Unmarshal(&fallback); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	if cfg.Reconciliation.AutoCorrectThreshold.IsZero() {
		cfg.Reconciliation.AutoCorrectThreshold = decimal.NewFromInt(1)
	}

	got := reflect.ValueOf(cfg).Elem()
	def := reflect.ValueOf(fallback)
	for i := range got.NumField() {
		section, defSection := got.Field(i), def.Field(i)
		for j := range section.NumField() {
			field := section.Field(j)
			if field.Kind() == reflect.Bool || field.Kind() == reflect.Struct {
				continue
			}
			if field.IsZero() || (field.Kind() == reflect.Slice && field.Len() == 0) {
				field.Set(defSection.Field(j))
			}
		}
	}
	return nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", s)
	}
	return d, nil
}

var settlementTypes = []string{"INSTANT", "STANDARD", "DEFERRED"}

func (c *Config) validate() error {
	checks := []struct {
		failed bool
		msg    string
	}{
		{c.Database.MaxOpenConns <= 0, "database.max_open_conns must be positive"},
		{c.Database.MaxIdleConns < 0, "database.max_idle_conns cannot be negative"},
		{c.Database.MaxIdleConns > c.Database.MaxOpenConns, fmt.Sprintf(
			"database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)},
		{c.Ledger.MaxRetries < 0, "ledger.max_retries cannot be negative"},
		{c.Ledger.FeeRateBps < 0 || c.Ledger.FeeRateBps > 10000, fmt.Sprintf(
			"ledger.fee_rate_bps must be between 0 and 10000, got %d", c.Ledger.FeeRateBps)},
		{!slices.Contains(settlementTypes, c.Ledger.SettlementType), fmt.Sprintf(
			"ledger.settlement_type must be INSTANT, STANDARD or DEFERRED, got %q", c.Ledger.SettlementType)},
		{c.Reconciliation.AutoCorrectThreshold.IsNegative(), "reconciliation.auto_correct_threshold cannot be negative"},
		{c.Reconciliation.BalanceInterval < time.Minute || c.Reconciliation.TradeInterval < time.Minute,
			"reconciliation intervals must be at least one minute"},
		{c.Kafka.Enabled && len(c.Kafka.Brokers) == 0, "kafka.brokers is required when kafka is enabled"},
		{c.Storage.Enabled && c.Storage.Bucket == "", "storage.bucket is required when storage is enabled"},
		{c.Reconciliation.ArchiveReports && !c.Storage.Enabled, "reconciliation.archive_reports requires storage to be enabled"},
		{c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1, fmt.Sprintf(
			"telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)},
	}
	for _, check := range checks {
		if check.failed {
			return errors.New(check.msg)
		}
	}
	if c.App.Env == "production" {
		return c.validateProduction()
	}
	return nil
}

// validateProduction rejects settings that are only acceptable on a laptop.
func (c *Config) validateProduction() error {
	switch {
	case c.JWT.Secret == "":
		return errors.New("jwt.secret is required in production")
	case len(c.JWT.Secret) < 32:
		return errors.New("jwt.secret must be at least 32 characters in production")
	case c.Database.Password == "":
		return errors.New("database.password is required in production")
	case c.Database.SSLMode == "disable":
		return errors.New("database.sslmode cannot be 'disable' in production")
	case c.Redis.Enabled && c.Redis.AllowFallback:
		return errors.New("redis.allow_fallback must be false in production (in-memory dedupe is per instance)")
	case slices.Contains(c.HTTP.CORSAllowOrigins, "*"):
		return errors.New("cors_allow_origins cannot be '*' in production (use specific origins)")
	case c.Swagger.Enabled && !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0:
		return errors.New("swagger endpoint must be disabled, require authentication, or have IP restriction in production")
	case c.Telemetry.DBLogFullSQL:
		return errors.New("telemetry.db_log_full_sql must be false in production")
	}
	return nil
}

// DSN renders a postgres:// URL with user and password escaped.
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}
