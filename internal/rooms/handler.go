package rooms

import (
	"errors"
	"strings"

	"github.com/mattjoyce/channelgw/internal/auth"
	"github.com/mattjoyce/channelgw/internal/socket"
)

// TopicPrefix is the topic namespace served by Room.
const TopicPrefix = "room:"

// Connect parameters and socket assigns.
const (
	ParamUser      = "user"
	ParamAuthToken = "auth_token"

	assignUser      = "user"
	assignPrincipal = "principal"
)

var ErrUnauthorized = errors.New("invalid or missing auth_token")

// Handler accepts clients for the rooms application.
type Handler struct {
	tokens []auth.TokenConfig
	room   *Room
}

// NewHandler returns a Handler serving room with the given connect tokens.
// With no tokens every client connects with read and write access.
func NewHandler(tokens []auth.TokenConfig, room *Room) *Handler {
	return &Handler{tokens: tokens, room: room}
}

func (h *Handler) Connect(params map[string]any, base *socket.Socket) (*socket.Socket, error) {
	principal := auth.Principal{Scopes: map[string]struct{}{
		auth.ScopeRoomsRead:  {},
		auth.ScopeRoomsWrite: {},
	}}
	if len(h.tokens) > 0 {
		presented, _ := params[ParamAuthToken].(string)
		p, ok := auth.Authenticate(strings.TrimSpace(presented), "", h.tokens)
		if !ok {
			return nil, ErrUnauthorized
		}
		principal = p
	}

	sock := base.Assign(assignPrincipal, principal)
	if user, ok := params[ParamUser].(string); ok && strings.TrimSpace(user) != "" {
		sock = sock.Assign(assignUser, strings.TrimSpace(user))
	}
	return sock, nil
}

// ID identifies named users as "user_socket:<user>". Anonymous clients
// cannot be disconnected by id.
func (h *Handler) ID(s *socket.Socket) (string, bool) {
	user, ok := userOf(s)
	if !ok {
		return "", false
	}
	return "user_socket:" + user, true
}

func (h *Handler) ChannelForTopic(topic string, _ socket.Transport) (socket.Channel, bool) {
	if h.room == nil {
		return nil, false
	}
	name, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || name == "" {
		return nil, false
	}
	return h.room, true
}

func userOf(s *socket.Socket) (string, bool) {
	v, ok := s.Get(assignUser)
	if !ok {
		return "", false
	}
	user, ok := v.(string)
	return user, ok && user != ""
}

func allowed(s *socket.Socket, scope string) bool {
	v, ok := s.Get(assignPrincipal)
	if !ok {
		return false
	}
	p, ok := v.(auth.Principal)
	return ok && auth.HasAnyScope(p, scope)
}
