// Package otel publishes goGuard engine counters through an OpenTelemetry
// Meter supplied by the caller. Each counter becomes an
// Int64ObservableCounter; the latency histogram is flattened into one
// cumulative gauge per bucket.
package otel
