package http

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	pipeline  driving.PipelineService
	documents driving.DocumentService
	editor    driving.ClinicalEditor
	versions  driving.VersionService

	// Infrastructure
	queue  driven.JobQueue
	checks map[string]Pinger
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Services bundles what the API exposes.
type Services struct {
	Pipeline  driving.PipelineService
	Documents driving.DocumentService
	Editor    driving.ClinicalEditor
	Versions  driving.VersionService

	// Queue is pinged by /ready and reports backlog; optional.
	Queue driven.JobQueue

	// Checks are named dependencies pinged by /ready (database, redis).
	Checks map[string]Pinger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	checks := make(map[string]Pinger, len(svc.Checks))
	for name, p := range svc.Checks {
		if p != nil {
			checks[name] = p
		}
	}

	s := &Server{
		router:    http.NewServeMux(),
		version:   cfg.Version,
		logger:    cfg.Logger,
		pipeline:  svc.Pipeline,
		documents: svc.Documents,
		editor:    svc.Editor,
		versions:  svc.Versions,
		queue:     svc.Queue,
		checks:    checks,
	}

	s.setupRoutes()

	handler := NewRecoveryMiddleware(cfg.Logger).Handler(
		NewLoggingMiddleware(cfg.Logger).Handler(s.router))
	if len(cfg.AllowedOrigins) > 0 {
		handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Synchronous processing waits on structured extraction.
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Document processing
	s.router.HandleFunc("POST /api/v1/documents/{id}/process", s.handleProcessDocument)
	s.router.HandleFunc("POST /api/v1/documents/process", s.handleEnqueueDocuments)
	s.router.HandleFunc("GET /api/v1/documents/{id}", s.handleGetDocument)
	s.router.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)

	// Clinical records and audit trail
	s.router.HandleFunc("PATCH /api/v1/records/{type}/{id}", s.handleUpdateRecordField)
	s.router.HandleFunc("DELETE /api/v1/records/{type}/{id}", s.handleDeleteRecord)
	s.router.HandleFunc("GET /api/v1/records/{type}/{id}/history", s.handleRecordHistory)
	s.router.HandleFunc("GET /api/v1/patients/{id}/history", s.handlePatientHistory)
	s.router.HandleFunc("POST /api/v1/versions/{id}/rollback", s.handleRollback)
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-stop
	log.Println("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
