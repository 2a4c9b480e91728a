// Package server provides the HTTP surface of the Guardian surveillance
// system: frame ingestion, live MJPEG feeds, monitoring and quality control,
// and the camera/event REST API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ayusman/guardian/internal/camera"
	"github.com/ayusman/guardian/internal/platform/logger"
	"github.com/ayusman/guardian/internal/platform/metrics"
	"github.com/ayusman/guardian/internal/store"
	"github.com/ayusman/guardian/internal/stream"
)

// Sender delivers status events to the gateway.
type Sender interface {
	Send(camID, status string, extra ...string)
}

// Config holds the server configuration.
type Config struct {
	// BaseContext anchors camera processing loops so they survive the
	// request that started them. Defaults to context.Background().
	BaseContext   context.Context
	Registry      *camera.Registry
	Scheduler     *stream.Scheduler
	Gateway       Sender
	Store         *store.Store
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	StaticDir     string
	RecordingsDir string
}

// Server routes HTTP requests to the camera pipeline.
type Server struct {
	config Config
	router chi.Router
	log    *slog.Logger
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		log:    log,
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)
	s.router.Use(logger.RequestLogger(s.log))
	if s.config.Metrics != nil {
		s.router.Use(metrics.RequestMiddleware(s.config.Metrics))
	}

	s.router.Post("/upload_frame/{camID}", s.handleUploadFrame)
	s.router.Get("/video_feed/{camID}", s.handleVideoFeed)
	s.router.Post("/monitor/{camID}/{action}", s.handleMonitor)
	s.router.Get("/quality/{camID}", s.handleGetQuality)
	s.router.Put("/quality/{camID}", s.handleSetQuality)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/events", s.handleListEvents)
	s.router.Post("/api/cameras", s.handleCreateCamera)
	s.router.Get("/api/cameras", s.handleListCameras)

	if s.config.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.config.Metrics.Handler())
	}
	if s.config.RecordingsDir != "" {
		fs := http.StripPrefix("/recordings/", http.FileServer(http.Dir(s.config.RecordingsDir)))
		s.router.Get("/recordings/*", fs.ServeHTTP)
	}
	if s.config.StaticDir != "" {
		s.router.Get("/*", http.FileServer(http.Dir(s.config.StaticDir)).ServeHTTP)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) baseContext() context.Context {
	if s.config.BaseContext != nil {
		return s.config.BaseContext
	}
	return context.Background()
}

// handleHealth returns basic liveness information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(s.start).String(),
		"cameras": len(s.config.Registry.Sessions()),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
