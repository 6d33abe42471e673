// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SessionDependencies
	FrameDependencies
	EventDependencies
}

// Server wires HTTP routes for the session API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	sessionsHandler *SessionsHandler
	framesHandler   *FramesHandler
	eventsHandler   *EventsHandler

	rateLimit int
	logger    logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit caps session API requests per client IP and minute. 0 disables.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute >= 0 {
			s.rateLimit = perMinute
		}
	}
}

// WithMaxFrameBytes caps frame uploads.
func WithMaxFrameBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.framesHandler.maxBytes = n
		}
	}
}

// WithAllowedOrigins restricts websocket origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.eventsHandler.origins = origins
	}
}

// WithLogger sets a custom logger.
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
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		sessionsHandler: NewSessionsHandler(deps),
		framesHandler:   NewFramesHandler(deps),
		eventsHandler:   NewEventsHandler(deps),
		logger:          logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.eventsHandler.logger = s.logger.Named("events")
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Handle("/metrics", s.healthHandler.MetricsHandler())
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Route("/sessions", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(RateLimit(s.rateLimit, time.Minute))
		}
		r.Post("/", MetricsMiddleware(s.sessionsHandler.HandleOpen, "sessions"))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", MetricsMiddleware(s.sessionsHandler.HandleView, "session"))
			r.Delete("/", MetricsMiddleware(s.sessionsHandler.HandleLeave, "leave"))
			r.Put("/interviewer", MetricsMiddleware(s.sessionsHandler.HandleInterviewer, "interviewer"))
			r.Post("/start", MetricsMiddleware(s.sessionsHandler.HandleStart, "start"))
			r.Post("/retry", MetricsMiddleware(s.sessionsHandler.HandleRetry, "retry"))
			r.Get("/handoff", MetricsMiddleware(s.sessionsHandler.HandleHandoff, "handoff"))
			r.Post("/frames", MetricsMiddleware(s.framesHandler.HandleFrame, "frames"))
			r.Post("/camera-error", MetricsMiddleware(s.framesHandler.HandleCameraError, "camera_error"))
			r.Get("/events", s.eventsHandler.HandleEvents)
		})
	})
}

// Handler returns a chi router with every route registered.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	s.Register(ctx, r)
	return r
}

// viewResponse is the JSON shape of a session view.
type viewResponse struct {
	SessionID    string             `json:"session_id"`
	RoomID       string             `json:"room_id"`
	Interviewer  string             `json:"interviewer"`
	Phase        orchestrator.Phase `json:"phase"`
	Camera       string             `json:"camera"`
	Model        string             `json:"model"`
	Credential   string             `json:"credential"`
	StartEnabled bool               `json:"start_enabled"`
	HasSnapshot  bool               `json:"has_snapshot"`
	TimedOut     bool               `json:"timed_out"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func toViewResponse(v orchestrator.View) viewResponse {
	return viewResponse{
		SessionID:    v.SessionID,
		RoomID:       v.RoomID,
		Interviewer:  v.Interviewer,
		Phase:        v.Phase,
		Camera:       string(v.Readiness.Camera),
		Model:        string(v.Readiness.Model),
		Credential:   string(v.Readiness.Credential),
		StartEnabled: v.StartEnabled,
		HasSnapshot:  v.HasSnapshot,
		TimedOut:     v.TimedOut,
		UpdatedAt:    v.UpdatedAt,
	}
}

type ackResponse struct {
	Status string `json:"status"`
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

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps err to its status and code.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}
