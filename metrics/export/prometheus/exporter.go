package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSource is the read side of an engine.
type MetricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   authcore.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   authcore.MetricID
	desc *prometheus.Desc
}

// Exporter is a prometheus.Collector over an engine's metric snapshot.
// Every Collect reads one snapshot, so a scrape is internally consistent.
type Exporter struct {
	source       MetricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter returns a collector reading from engine.
func NewExporter(engine *authcore.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource returns a collector reading from source.
func NewExporterFromSource(source MetricsSource) *Exporter {
	e := &Exporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(
			"authcore_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.",
			nil, nil,
		),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.auditDropped
}

// Collect implements prometheus.Collector. Histograms are only emitted
// when the engine records latency.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[i]
		}
		// Snapshots carry no sum.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(e.auditDropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
}

// Handler serves the exporter from a private registry, leaving the global
// registry untouched.
func (e *Exporter) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
