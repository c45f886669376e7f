// Package otel publishes authcore metrics through an OpenTelemetry meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per histogram bucket. One callback reads
// [authcore.Engine.MetricsSnapshot] per collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
