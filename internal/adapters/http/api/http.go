// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	service "github.com/okian/cognicare/internal/app"
	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
)

// Upload limits.
const (
	DefaultMaxVideoBytes    int64 = 300 << 20
	DefaultMaxCombinedBytes int64 = 1000 << 20

	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to disk.
	multipartMemory = 32 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Run executes one assessment. Upload files named by the submission are
	// owned by Run from the moment it is called.
	Run(ctx context.Context, sub service.Submission) (service.Outcome, error)

	// History returns the subject's records, newest first.
	History(ctx context.Context, subject model.Subject, limit int) ([]model.AssessmentRecord, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps          Dependencies
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	notifications http.Handler
	subjects      SubjectResolver
	maxVideo      int64
	maxCombined   int64
	uploadDir     string
	origins       []string
	logger        logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithNotifications mounts the live-notification endpoint.
func WithNotifications(h http.Handler) Option {
	return func(s *Server) { s.notifications = h }
}

// WithSubjectResolver replaces the header-based identity resolver.
func WithSubjectResolver(r SubjectResolver) Option {
	return func(s *Server) {
		if r != nil {
			s.subjects = r
		}
	}
}

// WithUploadLimits caps the body size of POST /video and POST /assessments.
// Non-positive values keep the defaults.
func WithUploadLimits(video, combined int64) Option {
	return func(s *Server) {
		if video > 0 {
			s.maxVideo = video
		}
		if combined > 0 {
			s.maxCombined = combined
		}
	}
}

// WithUploadDir sets where uploads are written. Empty uses os.TempDir().
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// WithAllowedOrigins restricts CORS. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		subjects:      HeaderSubject{},
		maxVideo:      DefaultMaxVideoBytes,
		maxCombined:   DefaultMaxCombinedBytes,
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router serving every endpoint. Extra registers
// additional routes (API docs) on the same router.
func (s *Server) Routes(extra ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.corsOptions()))

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Get("/metrics", s.healthHandler.HandleMetrics)

	r.Post("/video", MetricsMiddleware(s.handleVideo, "video"))
	r.Post("/forms", MetricsMiddleware(s.handleForm, "forms"))
	r.Post("/assessments", MetricsMiddleware(s.handleAssessment, "assessments"))
	r.Get("/data/history", MetricsMiddleware(s.handleHistory, "history"))

	// The metrics wrapper hides http.Hijacker, so the upgrade route is bare.
	if s.notifications != nil {
		r.Method(http.MethodGet, "/ws/notifications", s.notifications)
	}

	for _, register := range extra {
		register(r)
	}
	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", subjectHeader},
		AllowCredentials: len(s.origins) > 0,
		MaxAge:           300,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFailure maps err onto a status code and writes the error body.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

// statusFor maps the transport sentinels first, then the failure kinds.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	}

	code := failure.Label(err)
	switch failure.KindOf(err) {
	case failure.ErrInvalidInput:
		return http.StatusBadRequest, code
	case failure.ErrNoEvidence:
		return http.StatusUnprocessableEntity, code
	case failure.ErrUnavailable:
		return http.StatusServiceUnavailable, code
	case failure.ErrUpstream:
		return http.StatusBadGateway, code
	case failure.ErrTimeout:
		return http.StatusGatewayTimeout, code
	default:
		return http.StatusInternalServerError, code
	}
}

// problem renders a secondary failure carried inside a successful response.
func problem(err error) *errorResponse {
	if err == nil {
		return nil
	}
	_, code := statusFor(err)
	return &errorResponse{Code: code, Message: err.Error()}
}
