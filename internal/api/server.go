package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/chronodle/chronodle/internal/events"
)

// EventService is the subset of events.Service the API serves.
type EventService interface {
	Pairs(ctx context.Context, date events.Date, eventType events.EventType, count int) ([]events.Pair[events.EventPayload], error)
	DailyPairs(ctx context.Context, day time.Time, eventType events.EventType, count int) ([]events.Pair[events.EventPayload], error)
	RandomPairs(ctx context.Context, eventType events.EventType, count int) ([]events.Pair[events.EventPayload], error)
	Details(ctx context.Context, ids []uuid.UUID) ([]events.DetailedEvent, error)
	Ping(ctx context.Context) error
}

// Server handles HTTP requests
type Server struct {
	svc            EventService
	errorHandler   *ErrorHandler
	logger         *slog.Logger
	metrics        http.Handler
	middlewares    []func(http.Handler) http.Handler
	clusterSize    int
	requestTimeout time.Duration
	startTime      time.Time
	now            func() time.Time
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts handler on /metrics and wraps every route with mw.
func WithMetrics(handler http.Handler, mw func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
		if mw != nil {
			s.middlewares = append(s.middlewares, mw)
		}
	}
}

// WithClusterSize sets how many rows a default pair request reads.
func WithClusterSize(n int) Option {
	return func(s *Server) {
		if n >= 2 {
			s.clusterSize = n
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithClock overrides the clock used for envelope timestamps and the daily date.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a new API server
func NewServer(svc EventService, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		logger:         slog.Default(),
		clusterSize:    20,
		requestTimeout: 60 * time.Second,
		startTime:      time.Now(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errorHandler = NewErrorHandler(s.logger)
	s.errorHandler.now = s.now
	return s
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	for _, mw := range s.middlewares {
		r.Use(mw)
	}
	r.Use(s.requestLogger)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(corsMiddleware)

	// Health and monitoring endpoints
	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/events", func(r chi.Router) {
		r.Get("/pairs", s.handlePairs)
		r.Get("/detail", s.handleDetail)
		r.Get("/random", s.handleRandom)
	})

	return r
}

// writeSuccess wraps item in a success envelope.
func (s *Server) writeSuccess(w http.ResponseWriter, item any) {
	writeJSON(w, http.StatusOK, Envelope{
		Status:    StatusSuccess,
		Item:      item,
		Timestamp: s.now().UnixMilli(),
	})
}

// writeJSON writes a JSON response with proper headers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Chronodle-Version", Version)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// requestLogger logs one line per request with the request id.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.LogAttrs(r.Context(), slog.LevelDebug, "request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
