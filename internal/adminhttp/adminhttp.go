// Package adminhttp serves the optional admin/metrics HTTP endpoint
// (component C10): Prometheus's /metrics plus a /healthz check.
package adminhttp

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GH41318103/kvengine/internal/engine"
	"github.com/GH41318103/kvengine/internal/metrics"
)

// Server is a small HTTP server exposing /metrics and /healthz.
type Server struct {
	addr   string
	engine *engine.Engine
	m      *metrics.Metrics
	router *mux.Router
}

// New constructs an admin HTTP server bound to addr, refreshing m's
// gauges from e on every /metrics scrape.
func New(addr string, e *engine.Engine, m *metrics.Metrics) *Server {
	s := &Server{
		addr:   addr,
		engine: e,
		m:      m,
		router: mux.NewRouter(),
	}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)
	return s
}

// ListenAndServe blocks serving HTTP on s.addr.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.addr, s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.m.Refresh(s.engine)
		handler.ServeHTTP(w, r)
	})
}
