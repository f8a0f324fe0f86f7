package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/broadcast"
	"github.com/JakeFAU/topicwatch/internal/metrics"
	"github.com/JakeFAU/topicwatch/internal/orchestrator"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

const defaultRequestTimeout = 60 * time.Second

// Service is the orchestrator surface the handlers call.
type Service interface {
	SetupTopic(ctx context.Context, req orchestrator.SetupRequest) (topic.Topic, error)
	Topic(id string) (topic.Topic, error)
	Topics() []topic.Topic
	UpdateTopic(ctx context.Context, id string, patch orchestrator.TopicPatch) (topic.Topic, error)
	Pause(ctx context.Context, id string) (topic.Topic, error)
	Resume(ctx context.Context, id string) (topic.Topic, error)
	Archive(ctx context.Context, id string) (topic.Topic, error)
	UpdateSchedule(ctx context.Context, id string, sched topic.Schedule) (topic.Topic, error)
	TriggerNow(ctx context.Context, id string, cadence topic.Cadence) (orchestrator.Outcome, error)
	Health(ctx context.Context) orchestrator.Health
	Jobs() []orchestrator.Job
	Failures() []orchestrator.FailureLogEntry
	Runs(ctx context.Context, topicID string, limit int) ([]store.RunRecord, error)
	Run(ctx context.Context, runID string) (store.RunRecord, error)
}

// Subscriber hands out event subscriptions.
type Subscriber interface {
	Subscribe(topicID string) *broadcast.Subscription
}

// Options tunes the server.
type Options struct {
	// APIKey enables the X-API-Key check when non-empty.
	APIKey string
	// RequestTimeout bounds ordinary requests. Triggers and the event
	// stream are exempt.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and the broadcaster.
type Server struct {
	router chi.Router
	svc    Service
	events Subscriber
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, events Subscriber, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		svc:    svc,
		events: events,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		std := r.With(timeoutMiddleware(opts.RequestTimeout))
		std.Get("/health", s.health)
		std.Get("/jobs", s.listJobs)
		std.Get("/failures", s.listFailures)
		std.Get("/runs/{run_id}", s.getRun)
		std.Post("/topics", s.createTopic)
		std.Get("/topics", s.listTopics)
		std.Get("/topics/{topic_id}", s.getTopic)
		std.Patch("/topics/{topic_id}", s.updateTopic)
		std.Delete("/topics/{topic_id}", s.archiveTopic)
		std.Post("/topics/{topic_id}/pause", s.pauseTopic)
		std.Post("/topics/{topic_id}/resume", s.resumeTopic)
		std.Put("/topics/{topic_id}/schedule", s.updateSchedule)
		std.Get("/topics/{topic_id}/runs", s.listRuns)

		// Runs and streams outlive the request timeout.
		r.Post("/topics/{topic_id}/trigger/{cadence}", s.triggerTopic)
		r.Get("/events", s.streamEvents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health(r.Context())
	if h.Status == orchestrator.StatusDown {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(h.Status)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(h.Status)})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Health(r.Context()))
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": s.svc.Jobs()})
}

func (s *Server) listFailures(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"failures": s.svc.Failures()})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, topic.ErrInvalidName),
		errors.Is(err, topic.ErrInvalidSource),
		errors.Is(err, orchestrator.ErrInvalidCadence),
		isScheduleError(err):
		return http.StatusBadRequest
	case errors.Is(err, topic.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, topic.ErrArchived),
		errors.Is(err, topic.ErrExists),
		errors.Is(err, orchestrator.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, orchestrator.ErrNoRunStore),
		errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// their detail withheld.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeError(w, status, "internal server error")
		return
	}
	s.writeError(w, status, err.Error())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.Any("request_id", r.Context().Value(requestIDKey{})),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
