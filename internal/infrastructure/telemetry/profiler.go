package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig holds Pyroscope configuration.
type ProfilerConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string

	ProfileCPU        bool
	ProfileAllocSpace bool
	ProfileInuseSpace bool
	ProfileGoroutines bool
	ProfileMutex      bool
	ProfileBlock      bool
}

// profileTypes lists the Pyroscope profile types cfg asks for
func (cfg ProfilerConfig) profileTypes() []pyroscope.ProfileType {
	var types []pyroscope.ProfileType
	add := func(on bool, t ...pyroscope.ProfileType) {
		if on {
			types = append(types, t...)
		}
	}
	add(cfg.ProfileCPU, pyroscope.ProfileCPU)
	add(cfg.ProfileAllocSpace, pyroscope.ProfileAllocSpace)
	add(cfg.ProfileInuseSpace, pyroscope.ProfileInuseSpace)
	add(cfg.ProfileGoroutines, pyroscope.ProfileGoroutines)
	add(cfg.ProfileMutex, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	add(cfg.ProfileBlock, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	return types
}

// Profiler runs continuous profiling. A disabled profiler is inert.
type Profiler struct {
	session *pyroscope.Profiler
	logger  *zap.Logger
	once    sync.Once
}

// NewProfiler starts pushing profiles to Pyroscope.
func NewProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	p := &Profiler{logger: logger}
	if !cfg.Enabled {
		return p, nil
	}
	if cfg.ServerAddress == "" || cfg.ApplicationName == "" {
		return nil, errors.New("profiler: server address and application name are required")
	}
	if cfg.ProfileMutex {
		runtime.SetMutexProfileFraction(5)
	}
	if cfg.ProfileBlock {
		runtime.SetBlockProfileRate(5)
	}

	tags := map[string]string{}
	if host, err := os.Hostname(); err == nil {
		tags["hostname"] = host
	}
	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Tags:              tags,
		ProfileTypes:      cfg.profileTypes(),
		Logger:            pyroscopeLogger{logger.Sugar()},
	})
	if err != nil {
		return nil, fmt.Errorf("start profiler: %w", err)
	}
	p.session = session
	logger.Info("Continuous profiling enabled",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application", cfg.ApplicationName))
	return p, nil
}

// IsEnabled reports whether profiles are being pushed
func (p *Profiler) IsEnabled() bool {
	return p != nil && p.session != nil
}

// Stop flushes and stops profiling. Later calls do nothing.
func (p *Profiler) Stop() error {
	if !p.IsEnabled() {
		return nil
	}
	var err error
	p.once.Do(func() { err = p.session.Stop() })
	return err
}

type pyroscopeLogger struct {
	s *zap.SugaredLogger
}

func (l pyroscopeLogger) Infof(format string, args ...any)  { l.s.Debugf(format, args...) }
func (l pyroscopeLogger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l pyroscopeLogger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }

// Profiling label keys
const (
	ProfilingLabelController      = "controller"
	ProfilingLabelRoute           = "route"
	ProfilingLabelMethod          = "method"
	ProfilingLabelOperation       = "operation"
	ProfilingLabelTransactionType = "transaction_type"
	ProfilingLabelActorType       = "actor_type"
)

// MaxLabelValueLength caps label values
const MaxLabelValueLength = 128

// identifierLabels are per-row values. They never become profiling labels.
var identifierLabels = map[string]bool{
	"account_id":     true,
	"transaction_id": true,
	"order_id":       true,
	"trade_id":       true,
	"settlement_id":  true,
	"user_id":        true,
	"request_id":     true,
	"trace_id":       true,
	"span_id":        true,
}

// WithProfilingLabels runs fn with labels attached to the goroutine's
// profile samples. Identifier labels and empty values are dropped.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := labelPairs(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// labelPairs flattens labels into sorted key, value pairs
func labelPairs(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k, v := range labels {
		if k == "" || v == "" || identifierLabels[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		v := labels[k]
		if len(v) > MaxLabelValueLength {
			v = v[:MaxLabelValueLength]
		}
		pairs = append(pairs, strings.ToLower(k), v)
	}
	return pairs
}

// HTTPRequestLabels labels a request by controller, route and method
func HTTPRequestLabels(controller, route, method string) map[string]string {
	labels := make(map[string]string, 4)
	if controller != "" {
		labels[ProfilingLabelController] = controller
	}
	if route != "" {
		labels[ProfilingLabelRoute] = route
	}
	if method != "" {
		labels[ProfilingLabelMethod] = method
	}
	return labels
}

// Ledger operations
const (
	OperationPostTransaction = "post_transaction"
	OperationSettleTrade     = "settle_trade"
	OperationReconcile       = "reconcile"
	OperationVerifyChain     = "verify_chain"
)

// LedgerOperationLabels labels a ledger operation, optionally with a transaction type
func LedgerOperationLabels(operation, txType string) map[string]string {
	labels := map[string]string{ProfilingLabelOperation: operation}
	if txType != "" {
		labels[ProfilingLabelTransactionType] = txType
	}
	return labels
}
