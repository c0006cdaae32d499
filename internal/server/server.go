// Package server serves the built output directory to browsers during
// development: hardened static file serving plus a small set of
// introspection endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devloop-dev/devloop/internal/build"
	"github.com/devloop-dev/devloop/internal/config"
	"github.com/devloop-dev/devloop/internal/hmr"
	"github.com/devloop-dev/devloop/internal/logging"
	"github.com/devloop-dev/devloop/internal/version"
)

// Server serves the output directory over HTTP or HTTPS.
type Server struct {
	cfg          *config.Config
	orchestrator *build.Orchestrator
	hub          *hmr.Hub
	registry     *prometheus.Registry
	logger       logging.Logger

	httpServer   *http.Server
	serverMutex  sync.Mutex
	shutdownOnce sync.Once
}

// New creates a development server. orchestrator and hub feed the status
// endpoint; registry backs /metrics.
func New(cfg *config.Config, orchestrator *build.Orchestrator, hub *hmr.Hub, registry *prometheus.Registry, logger logging.Logger) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		hub:          hub,
		registry:     registry,
		logger:       logger.WithComponent("server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/build/status", s.handleBuildStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Everything else is a file in the output directory.
	r.NotFound(s.handleStatic)

	return r
}

// Start listens until ctx is cancelled or the listener fails. TLS material
// in the configuration switches the listener to HTTPS.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.serverMutex.Lock()
	s.httpServer = server
	s.serverMutex.Unlock()

	var err error
	if s.cfg.Secure() {
		err = server.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.serverMutex.Lock()
		server := s.httpServer
		s.serverMutex.Unlock()
		if server != nil {
			err = server.Shutdown(ctx)
		}
	})
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   info.Version,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "encoding health response")
	}
}

func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request) {
	buildErrors := s.orchestrator.LastErrors()

	status := "ok"
	if len(buildErrors) > 0 {
		status = "error"
	}

	response := map[string]interface{}{
		"status":    status,
		"builds":    s.orchestrator.Counter(),
		"errors":    buildErrors,
		"clients":   s.hub.ClientCount(),
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn(r.Context(), err, "encoding status response")
	}
}
