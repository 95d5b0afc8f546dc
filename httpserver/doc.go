// Package httpserver wraps an API handler in the operational shell a
// deployment needs: liveness and readiness endpoints, drain/undrain for
// load-balancer rotation, an optional pprof mount, a separate metrics
// listener, and graceful shutdown.
package httpserver
