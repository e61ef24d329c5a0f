package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

// Handler returns the Prometheus text-exposition handler for GET
// /metrics, following the teacher's pkg/metrics.Handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HealthzHandler returns a liveness handler for GET /healthz (spec §6):
// it always reports 200 while the process is up, following the
// teacher's pkg/metrics.LivenessHandler.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(startTime).String(),
		})
	}
}

// Server binds the /metrics and /healthz endpoints on addr, mirroring
// the teacher's health HTTP server shape (a bare net/http.Server, no
// framework router).
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server listening on addr. Call Start to bring it up.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.Handle("/healthz", HealthzHandler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server's Serve loop in the background and returns
// immediately. A failure other than the server being closed down is
// sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics: http server failed: %w", err)
		}
	}()
}

// Shutdown gracefully stops the server, following the teacher's
// cmd/warren/main.go shutdown sequencing.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
