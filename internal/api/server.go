package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/channelgw/internal/auth"
	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/metrics"
	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/state"
	"github.com/mattjoyce/channelgw/internal/transport"
)

// StatsProvider reports live connection counts.
type StatsProvider interface {
	Stats() transport.Stats
}

// Broadcaster publishes broadcasts to every subscriber of a topic.
type Broadcaster interface {
	Broadcast(ctx context.Context, b protocol.Broadcast) error
}

// SessionLister returns recorded socket sessions.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]state.Session, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Admin enables the authenticated admin routes.
	Admin bool
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Deps are the collaborators the routes serve. Nil transports are not
// mounted.
type Deps struct {
	WebSocket http.Handler
	LongPoll  http.Handler
	Stats     StatsProvider
	PubSub    Broadcaster
	Events    *events.Hub
	Sessions  SessionLister
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Sockets, long-polls and the event stream hold responses open, so
		// there is no server-wide write timeout.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	if s.deps.WebSocket != nil {
		r.Get("/socket/websocket", s.deps.WebSocket.ServeHTTP)
	}
	if s.deps.LongPoll != nil {
		r.Handle("/socket/longpoll", s.deps.LongPoll)
	}

	if s.config.Admin {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
			r.With(s.requireScopes(auth.ScopeBroadcast)).Post("/broadcast", s.handleBroadcast)
			r.With(s.requireScopes(auth.ScopeSocketsRead)).Get("/sockets", s.handleSockets)
			r.With(s.requireScopes(auth.ScopeSockets)).Post("/sockets/{id}/disconnect", s.handleDisconnect)
		})
	}

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
