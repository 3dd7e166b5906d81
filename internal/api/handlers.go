package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/state"
	"github.com/mattjoyce/channelgw/internal/transport"
)

const maxBroadcastBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Connections:   st.Connections,
		Channels:      st.Channels,
		ByTransport:   st.ByTransport,
	})
}

// handleBroadcast handles POST /broadcast.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.deps.PubSub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pubsub unavailable")
		return
	}

	var req BroadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBroadcastBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	req.Event = strings.TrimSpace(req.Event)
	if req.Topic == "" || req.Event == "" {
		s.writeError(w, http.StatusBadRequest, "topic and event are required")
		return
	}

	var payload any = protocol.EmptyPayload()
	if len(req.Payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Payload))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}

	b := protocol.Broadcast{Topic: req.Topic, Event: req.Event, Payload: payload}
	if err := s.deps.PubSub.Broadcast(r.Context(), b); err != nil {
		s.logger.Error("broadcast failed", "topic", b.Topic, "event", b.Event, "error", err)
		s.writeError(w, http.StatusBadGateway, "broadcast failed")
		return
	}
	s.logger.Info("broadcast published", "topic", b.Topic, "event", b.Event)
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "published", Topic: b.Topic, Event: b.Event})
}

// handleDisconnect handles POST /sockets/{id}/disconnect.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.deps.PubSub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pubsub unavailable")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "socket id is required")
		return
	}

	b := protocol.DisconnectBroadcast(id)
	if err := s.deps.PubSub.Broadcast(r.Context(), b); err != nil {
		s.logger.Error("disconnect broadcast failed", "socket_id", id, "error", err)
		s.writeError(w, http.StatusBadGateway, "disconnect failed")
		return
	}
	s.logger.Info("disconnect requested", "socket_id", id)
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "disconnect requested", Topic: b.Topic, Event: b.Event})
}

// handleSockets handles GET /sockets?limit=N.
func (s *Server) handleSockets(w http.ResponseWriter, r *http.Request) {
	resp := SocketsResponse{Live: s.stats()}
	if s.deps.Sessions != nil {
		limit := state.DefaultRecentLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		sessions, err := s.deps.Sessions.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list socket sessions", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list socket sessions")
			return
		}
		resp.Sessions = sessions
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) stats() transport.Stats {
	if s.deps.Stats == nil {
		return transport.Stats{ByTransport: map[string]int{}}
	}
	return s.deps.Stats.Stats()
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
