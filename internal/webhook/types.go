package webhook

import (
	"context"

	"github.com/mattjoyce/channelgw/internal/protocol"
)

// Broadcaster publishes verified webhook payloads.
type Broadcaster interface {
	Broadcast(ctx context.Context, b protocol.Broadcast) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path for this webhook (e.g., "/webhook/github")
	Path string `yaml:"path"`

	// Topic receives the broadcast.
	Topic string `yaml:"topic"`

	// Event names the broadcast (default: "webhook")
	Event string `yaml:"event"`

	// Secret is the HMAC secret for signature verification
	Secret string `yaml:"secret,omitempty"`

	// SignatureHeader is the HTTP header containing the HMAC signature
	// Examples: "X-Hub-Signature-256" (GitHub)
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// AcceptedResponse is the JSON response for a published webhook.
type AcceptedResponse struct {
	Topic string `json:"topic"`
	Event string `json:"event"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
	DefaultEvent       = "webhook"
)
