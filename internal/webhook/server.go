package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/channelgw/internal/protocol"
)

const shutdownGrace = 5 * time.Second

// Server accepts signed webhooks and republishes them as broadcasts.
type Server struct {
	listen    string
	pubsub    Broadcaster
	logger    *slog.Logger
	endpoints map[string]EndpointConfig
}

// New creates a webhook server. Endpoint defaults are applied here.
func New(config Config, pubsub Broadcaster, logger *slog.Logger) *Server {
	endpoints := make(map[string]EndpointConfig, len(config.Endpoints))
	for _, ep := range config.Endpoints {
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.Event == "" {
			ep.Event = DefaultEvent
		}
		endpoints[ep.Path] = ep
	}
	return &Server{
		listen:    config.Listen,
		pubsub:    pubsub,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// returns ctx.Err().
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("webhook server starting", "listen", s.listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("webhook server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown failed: %w", err)
	}
	return ctx.Err()
}

// Handler returns the routed webhook endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}
	return r
}

// accessLog never logs bodies; they may carry third-party secrets.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// rejection is an HTTP status plus the message returned to the sender.
type rejection struct {
	status  int
	message string
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	payload, rej := s.admit(ep, r)
	if rej != nil {
		s.respondError(w, rej.status, rej.message)
		return
	}

	b := protocol.Broadcast{Topic: ep.Topic, Event: ep.Event, Payload: payload}
	if err := s.pubsub.Broadcast(r.Context(), b); err != nil {
		s.logger.Error("failed to publish webhook broadcast", "path", ep.Path, "topic", ep.Topic, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to publish")
		return
	}
	s.logger.Info("webhook broadcast published", "path", ep.Path, "topic", ep.Topic, "event", ep.Event)
	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Topic: ep.Topic, Event: ep.Event})
}

// admit reads, bounds, authenticates and decodes a request body.
func (s *Server) admit(ep EndpointConfig, r *http.Request) (any, *rejection) {
	body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
	if err != nil {
		return nil, &rejection{http.StatusInternalServerError, "failed to read request body"}
	}
	if int64(len(body)) > ep.MaxBodySize {
		return nil, &rejection{http.StatusRequestEntityTooLarge, "payload too large"}
	}

	if err := verifySignature(body, r.Header.Get(ep.SignatureHeader), ep.Secret); err != nil {
		s.logger.Warn("webhook signature rejected", "path", ep.Path, "header", ep.SignatureHeader)
		return nil, &rejection{http.StatusForbidden, "forbidden"}
	}

	var payload any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, &rejection{http.StatusBadRequest, "body must be JSON"}
	}
	return payload, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
