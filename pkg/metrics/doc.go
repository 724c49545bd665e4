// Package metrics exposes the prometheus collectors this node produces:
// raft role/log-index gauges, relocation counters, and migration chunk
// throughput, plus an HTTP handler to serve them.
package metrics
