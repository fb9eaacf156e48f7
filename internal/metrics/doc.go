// Package metrics holds lock-free counters and fixed-bucket latency
// histograms indexed by small integer ids.
//
// Counters live in cache-line-padded uint64 slots and are incremented with
// sync/atomic. Histograms use 8 buckets (<=5ms ... +Inf). Neither allocates
// on the write path. Metric names and export live elsewhere: the root
// package assigns ids and metrics/export reads snapshots.
package metrics
