package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func newFake() fakeSource {
	return fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         7,
				authcore.MetricRefreshReuseDetected: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestCollectCounters(t *testing.T) {
	exp := NewExporterFromSource(newFake())

	expected := `
# HELP authcore_login_success_total Successful login attempts.
# TYPE authcore_login_success_total counter
authcore_login_success_total 7
# HELP authcore_refresh_reuse_detected_total Detected refresh token reuses.
# TYPE authcore_refresh_reuse_detected_total counter
authcore_refresh_reuse_detected_total 1
# HELP authcore_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE authcore_audit_dropped_total counter
authcore_audit_dropped_total 2
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"authcore_login_success_total",
		"authcore_refresh_reuse_detected_total",
		"authcore_audit_dropped_total",
	)
	require.NoError(t, err)
}

func TestCollectHistogramIsCumulative(t *testing.T) {
	exp := NewExporterFromSource(newFake())

	expected := `
# HELP authcore_validate_latency_seconds Access token validation latency histogram.
# TYPE authcore_validate_latency_seconds histogram
authcore_validate_latency_seconds_bucket{le="0.005"} 1
authcore_validate_latency_seconds_bucket{le="0.01"} 3
authcore_validate_latency_seconds_bucket{le="0.025"} 6
authcore_validate_latency_seconds_bucket{le="0.05"} 10
authcore_validate_latency_seconds_bucket{le="0.1"} 15
authcore_validate_latency_seconds_bucket{le="0.25"} 21
authcore_validate_latency_seconds_bucket{le="0.5"} 28
authcore_validate_latency_seconds_bucket{le="+Inf"} 36
authcore_validate_latency_seconds_sum 0
authcore_validate_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected), "authcore_validate_latency_seconds")
	require.NoError(t, err)
}

func TestHistogramSkippedWithoutLatency(t *testing.T) {
	src := newFake()
	src.snapshot.Histograms = map[authcore.MetricID][]uint64{}
	exp := NewExporterFromSource(src)

	n, err := testutil.GatherAndCount(mustRegistry(t, exp), "authcore_validate_latency_seconds")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandlerServesTextFormat(t *testing.T) {
	exp := NewExporterFromSource(newFake())
	srv := httptest.NewServer(exp.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "authcore_login_success_total 7")
	assert.Contains(t, string(body), "authcore_notify_failure_total 0")
}

func TestExporterOverRealEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStores(redisstore.New(client, redisstore.Config{}).Stores()).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	_, ok := engine.ValidateAccessToken("not-a-jwt")
	require.False(t, ok)

	expected := `
# HELP authcore_validate_latency_seconds Access token validation latency histogram.
# TYPE authcore_validate_latency_seconds histogram
authcore_validate_latency_seconds_bucket{le="0.005"} 1
authcore_validate_latency_seconds_bucket{le="0.01"} 1
authcore_validate_latency_seconds_bucket{le="0.025"} 1
authcore_validate_latency_seconds_bucket{le="0.05"} 1
authcore_validate_latency_seconds_bucket{le="0.1"} 1
authcore_validate_latency_seconds_bucket{le="0.25"} 1
authcore_validate_latency_seconds_bucket{le="0.5"} 1
authcore_validate_latency_seconds_bucket{le="+Inf"} 1
authcore_validate_latency_seconds_sum 0
authcore_validate_latency_seconds_count 1
`
	require.NoError(t, testutil.CollectAndCompare(NewExporter(engine), strings.NewReader(expected), "authcore_validate_latency_seconds"))
}

func TestNilEngineReportsZeroes(t *testing.T) {
	var engine *authcore.Engine
	n, err := testutil.GatherAndCount(mustRegistry(t, NewExporter(engine)), "authcore_login_success_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func mustRegistry(t *testing.T, c prometheus.Collector) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	return reg
}
