// Package httpserver provides the HTTP REST API for the interaction
// discovery service: job submission and control, interaction listings, and
// the per-job SSE progress stream.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/helixir/interaction-discovery-service/internal/database"
	"github.com/helixir/interaction-discovery-service/internal/discovery"
	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/observability"
	"github.com/helixir/interaction-discovery-service/internal/repository"
)

// JobController starts and stops discovery runs. *discovery.Manager satisfies it.
type JobController interface {
	Start(job *domain.Job) error
	Stop(jobID uuid.UUID) bool
	StopAndWait(ctx context.Context, jobID uuid.UUID) error
}

var _ JobController = (*discovery.Manager)(nil)

// Server is the HTTP REST API server.
type Server struct {
	router       chi.Router
	httpServer   *http.Server
	jobs         repository.JobRepository
	interactions repository.InteractionRepository
	runs         JobController
	db           *database.DB
	pool         *pgxpool.Pool
	config       Config
	validate     *validator.Validate
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// DefaultTargetCount is used when a job request omits target_count.
	DefaultTargetCount int
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.DefaultTargetCount <= 0 {
		c.DefaultTargetCount = 5
	}
}

// NewServer creates the HTTP server with all dependencies.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewServer(
	cfg Config,
	jobs repository.JobRepository,
	interactions repository.InteractionRepository,
	runs JobController,
	db *database.DB,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Server {
	cfg.applyDefaults()
	s := &Server{
		jobs:         jobs,
		interactions: interactions,
		runs:         runs,
		db:           db,
		pool:         db.Pool(),
		config:       cfg,
		validate:     newValidator(),
		logger:       logger.With().Str("component", "http-server").Logger(),
		metrics:      metrics,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// newValidator builds the request validator. Field names in validation
// messages follow the json tags, not the Go field names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.inflightMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Post("/stop", s.stopJob)
				r.Get("/stream", s.streamJob)
				r.Get("/interactions", s.listJobInteractions)
			})
		})

		r.Get("/interactions", s.listInteractions)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
