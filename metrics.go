package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	// MetricLoginLocked counts login attempts rejected by an active lockout.
	MetricLoginLocked
	MetricLoginUnverified
	MetricLoginDisabled
	// MetricAccountLocked counts transitions into lockout.
	MetricAccountLocked
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	// MetricRefreshChainRevoked counts descendant tokens revoked after reuse.
	MetricRefreshChainRevoked
	MetricLogout
	MetricLogoutAll
	MetricAccountCreationSuccess
	MetricAccountCreationDuplicate
	MetricAccountCreationWeakPassword
	MetricEmailVerificationRequest
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricPasswordChangeReuseRejected
	MetricPasswordRehashed
	MetricAccountDisabled
	MetricAccountEnabled
	// MetricNotifyFailure counts notifier errors swallowed by the engine.
	MetricNotifyFailure
	MetricLoginLatency
	MetricValidateLatency
	metricIDCount
)

// MetricIDCount is the number of defined metric ids.
const MetricIDCount = int(metricIDCount)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBucketCount is the number of latency buckets per histogram.
const HistogramBucketCount = histBucketCount

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and optional latency histograms. A nil or
// disabled Metrics ignores every write.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics. Histogram bucket
// counts are per bucket, not cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d into the histogram id. Only latency ids keep
// histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if !IsHistogramMetric(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when latency is enabled, every
// histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if IsHistogramMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricLoginLatency, MetricValidateLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

// IsHistogramMetric reports whether id is a latency histogram rather than
// a counter.
func IsHistogramMetric(id MetricID) bool {
	return id == MetricLoginLatency || id == MetricValidateLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
