package metrics

import (
	"context"
	"net/http"
	"time"
)

// Server serves the metrics endpoint on its own listener, separate from the
// API listener so scrapes never contend with traffic.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server for the given address.
func NewServer(m *Metrics, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// ListenAndServe blocks serving the metrics endpoint.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
