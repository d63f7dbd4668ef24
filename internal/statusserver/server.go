// Package statusserver exposes a read-only HTTP+WebSocket view of run
// progress. It only ever reads the files the scheduler and cell runners
// already write (heartbeat.json, progress.csv, summary.json, DONE.txt) — it
// has no write path and no say over resume decisions.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server serves the status API for every run under one root directory.
type Server struct {
	router *chi.Mux
	server *http.Server
	runDir string
	log    zerolog.Logger
}

// New builds a Server rooted at runDir, the directory that holds the run
// directories (backtest/out/montecarlo); each route picks a run by its
// {name}. It listens on addr once Start is called.
func New(addr, runDir string, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		runDir: runDir,
		log:    log.With().Str("component", "status_server").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/runs/{name}/heartbeat", s.handleHeartbeat)
	s.router.Get("/runs/{name}/progress", s.handleProgress)
	s.router.Get("/runs/{name}/cells/{cell_id}/summary", s.handleCellSummary)
	s.router.Get("/runs/{name}/stream", s.handleStream)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Start begins serving and blocks until the server shuts down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("status server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.serveJSONFile(w, filepath.Join(s.runDir, name, "aggregated", "heartbeat.json"))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.serveJSONFile(w, filepath.Join(s.runDir, name, "aggregated", "progress.csv"))
}

func (s *Server) handleCellSummary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cellID := chi.URLParam(r, "cell_id")
	s.serveJSONFile(w, filepath.Join(s.runDir, name, "per_cell", cellID, "summary.json"))
}

func (s *Server) serveJSONFile(w http.ResponseWriter, path string) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("read %s: %v", filepath.Base(path), err), http.StatusInternalServerError)
		return
	}
	if filepath.Ext(path) == ".csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// statusSnapshot is what handleStream pushes on each tick.
type statusSnapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	Heartbeat json.RawMessage `json:"heartbeat,omitempty"`
}
