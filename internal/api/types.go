package api

import (
	"encoding/json"

	"github.com/mattjoyce/channelgw/internal/state"
	"github.com/mattjoyce/channelgw/internal/transport"
)

// BroadcastRequest is the JSON body for POST /broadcast
type BroadcastRequest struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AcceptedResponse is returned when a broadcast has been published
type AcceptedResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
	Event  string `json:"event"`
}

// SocketsResponse is returned by GET /sockets
type SocketsResponse struct {
	Live     transport.Stats `json:"live"`
	Sessions []state.Session `json:"sessions,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Connections   int            `json:"connections"`
	Channels      int            `json:"channels"`
	ByTransport   map[string]int `json:"by_transport"`
}
