package socket

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/pubsub"
)

// ErrConnectRejected is wrapped by Connect when the handler refuses a client.
var ErrConnectRejected = errors.New("connection rejected")

// ContractViolation reports a Handler callback returning a value outside its
// contract. Connect panics with it: the integration is broken and carrying on
// would leave the connection in an undefined state.
type ContractViolation struct {
	Callback string
	Detail   string
}

func (c *ContractViolation) Error() string {
	return fmt.Sprintf("socket handler contract violation in %s: %s", c.Callback, c.Detail)
}

// EndpointConfig carries the endpoint-wide collaborators stamped into every
// socket.
type EndpointConfig struct {
	Name       string
	PubSub     pubsub.PubSub
	Serializer protocol.Serializer
}

// Connect builds the base socket for a new client and runs the handler's
// connect and id callbacks against it.
func Connect(ep EndpointConfig, transport Transport, h Handler, params map[string]any) (*Socket, error) {
	if h == nil {
		panic(&ContractViolation{Callback: "Connect", Detail: "nil handler"})
	}
	serializer := ep.Serializer
	if serializer == nil {
		serializer = protocol.JSONSerializer{}
	}
	if params == nil {
		params = map[string]any{}
	}

	base := &Socket{
		Endpoint:   ep.Name,
		Transport:  transport,
		Handler:    h,
		PubSub:     ep.PubSub,
		Serializer: serializer,
		Assigns:    map[string]any{},
	}

	accepted, err := h.Connect(params, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectRejected, err)
	}
	if accepted == nil {
		panic(&ContractViolation{
			Callback: "Connect",
			Detail:   "expected an accepted socket or an error, got neither",
		})
	}

	id, ok := h.ID(accepted)
	if ok && id == "" {
		panic(&ContractViolation{
			Callback: "ID",
			Detail:   "expected a non-empty id or ok=false, got an empty id",
		})
	}

	cp := *accepted
	cp.ID = ""
	if ok {
		cp.ID = id
	}
	return &cp, nil
}
