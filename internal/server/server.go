// Package server exposes the session queue over a REST API: upload, inspect,
// select, suggest, redact, download.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/redactly/redactly/internal/config"
	"github.com/redactly/redactly/internal/events"
	"github.com/redactly/redactly/internal/logger"
	"github.com/redactly/redactly/internal/session"
)

// Server is the HTTP front end.
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	queue   *session.Queue
	hub     *events.Hub
	router  *mux.Router
	server  *http.Server
	limiter *uploadLimiter
}

// New creates the HTTP server around an existing queue and event hub.
func New(cfg *config.Config, queue *session.Queue, hub *events.Hub, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		queue:   queue,
		hub:     hub,
		router:  mux.NewRouter(),
		limiter: newUploadLimiter(cfg.Server.UploadsPerMinute),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// WebSocket endpoint for live session updates
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)

	api.Handle("/files", s.rateLimitMiddleware(http.HandlerFunc(s.handleUpload))).Methods("POST")
	api.HandleFunc("/files", s.handleList).Methods("GET")
	api.HandleFunc("/files/{id}", s.handleGet).Methods("GET")
	api.HandleFunc("/files/{id}", s.handleRemove).Methods("DELETE")
	api.HandleFunc("/files/{id}/selections/toggle", s.handleToggle).Methods("POST")
	api.HandleFunc("/files/{id}/selections", s.handleSelections).Methods("POST")
	api.HandleFunc("/files/{id}/options", s.handleOptions).Methods("PUT")
	api.HandleFunc("/files/{id}/suggest", s.handleSuggest).Methods("POST")
	api.HandleFunc("/files/{id}/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/files/{id}/download", s.handleDownload).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting Redactly server",
		zap.Int("port", s.config.Server.Port),
		zap.String("detection_url", s.config.Detection.BaseURL),
		zap.String("suggestion_url", s.config.Suggestion.BaseURL),
		zap.Int("queue_capacity", s.config.Queue.Capacity),
	)

	if s.config.WebSocket.Enabled {
		go s.hub.Run()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Redactly server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           "redactly",
		"queue_capacity": s.config.Queue.Capacity,
		"queue_size":     s.queue.Len(),
		"cache_enabled":  s.config.Cache.Enabled,
	})
}

// handleWebSocket handles WebSocket connections for live updates
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}
