package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLabelPairs(t *testing.T) {
	long := strings.Repeat("x", MaxLabelValueLength+10)

	pairs := labelPairs(map[string]string{
		ProfilingLabelRoute:     "/api/v1/transactions",
		ProfilingLabelOperation: long,
		"account_id":            "c0ffee",
		"Method":                "POST",
		"empty":                 "",
	})

	require.Equal(t, []string{
		"method", "POST",
		ProfilingLabelOperation, long[:MaxLabelValueLength],
		ProfilingLabelRoute, "/api/v1/transactions",
	}, pairs)
}

func TestWithProfilingLabels(t *testing.T) {
	var got map[string]string
	WithProfilingLabels(context.Background(), LedgerOperationLabels(OperationPostTransaction, "TRANSFER"), func(ctx context.Context) {
		got = map[string]string{}
		pprof.ForLabels(ctx, func(k, v string) bool {
			got[k] = v
			return true
		})
	})

	assert.Equal(t, map[string]string{
		ProfilingLabelOperation:       OperationPostTransaction,
		ProfilingLabelTransactionType: "TRANSFER",
	}, got)

	called := false
	WithProfilingLabels(context.Background(), map[string]string{"order_id": "1"}, func(context.Context) { called = true })
	assert.True(t, called, "fn runs even when every label is dropped")
}

func TestHTTPRequestLabels(t *testing.T) {
	assert.Equal(t, map[string]string{
		ProfilingLabelController: "orders",
		ProfilingLabelRoute:      "/api/v1/orders/:id",
		ProfilingLabelMethod:     "GET",
	}, HTTPRequestLabels("orders", "/api/v1/orders/:id", "GET"))
	assert.Empty(t, HTTPRequestLabels("", "", ""))
	assert.Equal(t, map[string]string{ProfilingLabelOperation: OperationReconcile}, LedgerOperationLabels(OperationReconcile, ""))
}

func TestProfilerConfig_ProfileTypes(t *testing.T) {
	cfg := ProfilerConfig{ProfileCPU: true, ProfileInuseSpace: true, ProfileMutex: true}
	assert.Equal(t, []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileMutexCount,
		pyroscope.ProfileMutexDuration,
	}, cfg.profileTypes())
}

func TestNewProfiler(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		p, err := NewProfiler(ProfilerConfig{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.False(t, p.IsEnabled())
		assert.NoError(t, p.Stop())
	})

	t.Run("missing server address", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "trade-ledger"}, zaptest.NewLogger(t))
		assert.Error(t, err)
	})

	t.Run("nil profiler", func(t *testing.T) {
		var p *Profiler
		assert.False(t, p.IsEnabled())
	})
}
