// Package admin exposes the small control-plane HTTP surface next to the
// UDP listener: a liveness probe and a Prometheus scrape endpoint.
//
// Grounded on dtn7-dtn7-gold/agent/rest_agent.go's RestAgent: a struct
// wrapping a *mux.Router, routes registered in the constructor, and a
// ServeHTTP method that just delegates to the router.
package admin

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the admin HTTP surface. Healthy defaults to true; call
// SetHealthy(false) to make /healthz start failing, e.g. during a drain
// ahead of a takeover handoff.
type Server struct {
	router  *mux.Router
	healthy atomic.Bool
}

// New builds a Server whose /metrics endpoint scrapes reg.
func New(reg *prometheus.Registry) *Server {
	s := &Server{router: mux.NewRouter()}
	s.healthy.Store(true)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler, delegating to the internal router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetHealthy controls the /healthz response, letting cmd/quicrouted fail
// readiness checks during a graceful shutdown before the socket closes.
func (s *Server) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

type healthResponse struct {
	Healthy bool `json:"healthy"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := s.healthy.Load()
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(healthResponse{Healthy: healthy})
}
