// Package metrics exposes Prometheus instrumentation for the gateway
// simulator: per-route request counts and latencies, served from a
// dedicated registry so tests can run handlers side by side.
package metrics
