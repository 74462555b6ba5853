// Package metrics exposes backup outcomes, evictions, and volume state as
// Prometheus collectors, plus an optional HTTP listener for /metrics.
package metrics
