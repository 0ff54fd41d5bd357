package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the health report and Prometheus metrics over HTTP.
type Server struct {
	monitor *Monitor
	server  *http.Server
}

// NewServer creates a health server reporting from the given monitor.
func NewServer(monitor *Monitor, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth answers load balancer probes: the aggregate status plus the
// header stream position, with a 503 when anything critical is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Report(r.Context())
	summary := struct {
		Status     Status  `json:"status"`
		LastHeader uint64  `json:"last_header,omitempty"`
		HeaderAge  float64 `json:"header_age_seconds,omitempty"`
	}{report.Status, report.LastHeader, report.HeaderAge}
	s.writeReport(w, report.Status, summary)
}

// handleDetailed includes the per-component breakdown.
func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Report(r.Context())
	s.writeReport(w, report.Status, report)
}

func (s *Server) writeReport(w http.ResponseWriter, status Status, body any) {
	w.Header().Set("Content-Type", "application/json")
	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
