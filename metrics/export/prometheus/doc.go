// Package prometheus exposes authcore metrics as a prometheus.Collector.
//
// [NewExporter] wraps an [authcore.Engine]; register it on any registry or
// mount [Exporter.Handler]. Counters are named authcore_*_total and the
// latency histograms authcore_*_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
