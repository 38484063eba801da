// Package admin exposes the operational HTTP surface: health, Prometheus
// metrics, and the recent transaction results. It is read-only glue around
// the coordinator; no write path goes through it.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tallyops/tally/coordinator"
	"github.com/tallyops/tally/telemetry"
)

// Server serves the admin endpoints.
type Server struct {
	recent *coordinator.RecentResults
	srv    *http.Server
}

// NewServer builds the router. recent may be nil; the transaction endpoints
// then return empty results.
func NewServer(addr string, recent *coordinator.RecentResults) *Server {
	s := &Server{recent: recent}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/transactions", s.handleTransactions)
	r.Get("/transactions/{txnID}", s.handleTransaction)
	if h := telemetry.GetMetricsHandler(); h != nil {
		r.Method(http.MethodGet, "/metrics", h)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("Admin server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode admin response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTransactions(w http.ResponseWriter, _ *http.Request) {
	if s.recent == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.recent.List())
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnID")
	if s.recent == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	result, ok := s.recent.Get(txnID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
