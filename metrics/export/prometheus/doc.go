// Package prometheus exposes goGuard engine counters as a
// prometheus.Collector. Counters are named goguard_*_total and access token
// validation latency is goguard_validate_latency_seconds.
//
// Register the [Exporter] with your own registry, or mount [Exporter.Handler]
// which uses a private one.
package prometheus
