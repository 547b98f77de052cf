// Package api exposes the scheduler control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service/grid"
)

// Controller is the scheduler surface the API drives.
type Controller interface {
	Status() grid.Status
	Stop()
	Pause()
	Resume()
}

// Server provides the HTTP endpoints.
type Server struct {
	router     chi.Router
	controller Controller
	eventBus   *events.EventBus
	metrics    http.Handler
	logger     *logging.Logger
	upgrader   websocket.Upgrader
	now        func() time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a new API server. eventBus may be nil, in which case
// the event stream answers 503.
func NewServer(controller Controller, eventBus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		controller: controller,
		eventBus:   eventBus,
		logger:     logging.NewNop(),
		now:        time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/status", s.handleStatus)
			r.Post("/stop", s.handleStop)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
		})
		// The event stream is long lived and stays outside the timeout group.
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.controller.Status())
}

// ControlResponse is returned by the stop, pause and resume endpoints.
type ControlResponse struct {
	Action string      `json:"action"`
	Status grid.Status `json:"status"`
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	s.logger.Info("stop requested")
	respondJSON(w, http.StatusAccepted, ControlResponse{Action: "stop", Status: s.controller.Status()})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	st := s.controller.Status()
	if st.Stopped {
		respondError(w, http.StatusConflict, "scheduler is stopped")
		return
	}
	s.controller.Pause()
	s.logger.Info("pause requested")
	respondJSON(w, http.StatusAccepted, ControlResponse{Action: "pause", Status: s.controller.Status()})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.controller.Resume()
	s.logger.Info("resume requested")
	respondJSON(w, http.StatusAccepted, ControlResponse{Action: "resume", Status: s.controller.Status()})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting control surface", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
