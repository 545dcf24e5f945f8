// Package metrics exposes backup pass and cadence execution metrics through
// Prometheus. A nil *PrometheusRecorder is valid and records nothing.
package metrics
