// Package telemetry exposes engine health over HTTP for external dashboards.
// The core owns no wire format; this is an adapter around GetMetrics().
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"velvet/internal/coordinator"
	"velvet/internal/types"
)

// MetricsSource is what the server reads; the engine satisfies it.
type MetricsSource interface {
	GetMetrics() coordinator.EngineMetrics
	History() []types.Intervention
	Priorities() map[string]float64
}

// Server serves /health, /metrics, and /history.
type Server struct {
	src  MetricsSource
	http *http.Server
}

// NewServer builds the HTTP server on addr.
func NewServer(addr string, src MetricsSource) *Server {
	s := &Server{src: src}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/priorities", s.handlePriorities).Methods("GET")

	s.http = &http.Server{
		Addr:         addr,
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.src.GetMetrics())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.src.History())
}

func (s *Server) handlePriorities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.src.Priorities())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
