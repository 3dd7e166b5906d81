package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/mattjoyce/channelgw/internal/dispatch"
	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/metrics"
	"github.com/mattjoyce/channelgw/internal/origin"
	"github.com/mattjoyce/channelgw/internal/socket"
)

// Endpoint is what every transport of one socket endpoint shares.
type Endpoint struct {
	Config  socket.EndpointConfig
	Handler socket.Handler
	Server  dispatch.ChannelServer
	Events  events.Publisher
	Owners  *Manager

	// CheckOrigin enables the origin guard against AllowedOrigins.
	CheckOrigin    bool
	AllowedOrigins []string
	Origin         origin.Options
}

// allowOrigin runs the origin guard. It writes the forbidden response
// itself and returns false when the request must not continue.
func (e *Endpoint) allowOrigin(w http.ResponseWriter, r *http.Request) bool {
	if !e.CheckOrigin {
		return true
	}
	if origin.Check(w, r, e.AllowedOrigins, e.Origin) {
		return true
	}
	metrics.OriginRejected()
	return false
}

// connect runs the handler's Connect callback with the query parameters.
func (e *Endpoint) connect(query url.Values, transport socket.Transport) (*socket.Socket, error) {
	s, err := socket.Connect(e.Config, transport, e.Handler, connectParams(query))
	if err != nil {
		metrics.ConnectRejected(string(transport))
		return nil, err
	}
	return s, nil
}

func (e *Endpoint) newOwner(base *socket.Socket, conn Sender) *Owner {
	o := NewOwner(base, conn, e.Server, e.Events)
	if e.Owners != nil {
		e.Owners.add(o)
	}
	return o
}

// run drives o until it tears down and deregisters it.
func (e *Endpoint) run(ctx context.Context, o *Owner) {
	o.Run(ctx)
	if e.Owners != nil {
		e.Owners.remove(o)
	}
}

func connectParams(query url.Values) map[string]any {
	params := make(map[string]any, len(query))
	for k, v := range query {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeConnectError(w http.ResponseWriter, err error) {
	if errors.Is(err, socket.ErrConnectRejected) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "connection rejected"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// Stats summarises live connections.
type Stats struct {
	Connections int            `json:"connections"`
	Channels    int            `json:"channels"`
	ByTransport map[string]int `json:"by_transport"`
}

// Manager tracks the live owners of every transport.
type Manager struct {
	mu     sync.RWMutex
	owners map[string]*Owner
}

func NewManager() *Manager {
	return &Manager{owners: make(map[string]*Owner)}
}

func (m *Manager) add(o *Owner) {
	m.mu.Lock()
	m.owners[o.ID()] = o
	m.mu.Unlock()
}

func (m *Manager) remove(o *Owner) {
	m.mu.Lock()
	delete(m.owners, o.ID())
	m.mu.Unlock()
}

// Stats returns a point-in-time summary.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{ByTransport: make(map[string]int)}
	for _, o := range m.owners {
		st.Connections++
		st.Channels += o.Channels()
		st.ByTransport[string(o.Socket().Transport)]++
	}
	return st
}

// CloseAll tears down every live owner and waits until they are done or ctx
// ends.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.RLock()
	owners := make([]*Owner, 0, len(m.owners))
	for _, o := range m.owners {
		owners = append(owners, o)
	}
	m.mu.RUnlock()

	for _, o := range owners {
		o.Close()
	}
	for _, o := range owners {
		select {
		case <-o.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
