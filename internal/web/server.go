// Package web exposes the ingest pipeline over HTTP.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	ingestmw "github.com/JonMunkholm/ingest/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves ingestion runs over HTTP. Every run holds a RunLimiter slot
// for its whole duration.
type Server struct {
	pipeline   *core.Pipeline[core.User]
	dispatch   core.Handler[core.User]
	limiter    *core.RunLimiter
	cfg        config.ServerConfig
	runTimeout time.Duration

	router *chi.Mux
	server *http.Server
}

// NewServer wires the routes. dispatch is the per-record handler used by
// the dispatch endpoint; runTimeout bounds each run.
func NewServer(
	pipeline *core.Pipeline[core.User],
	dispatch core.Handler[core.User],
	limiter *core.RunLimiter,
	cfg config.ServerConfig,
	runTimeout time.Duration,
) *Server {
	s := &Server{
		pipeline:   pipeline,
		dispatch:   dispatch,
		limiter:    limiter,
		cfg:        cfg,
		runTimeout: runTimeout,
		router:     chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(ingestmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(noSniff)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/ingest/dispatch", s.handleDispatch)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for active handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func noSniff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with status. Encoding errors are only logged since
// the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
