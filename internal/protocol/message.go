package protocol

// Reserved topic and event names.
const (
	TopicPhoenix = "phoenix"

	EventHeartbeat  = "heartbeat"
	EventJoin       = "phx_join"
	EventLeave      = "phx_leave"
	EventReply      = "phx_reply"
	EventClose      = "phx_close"
	EventError      = "phx_error"
	EventDisconnect = "disconnect"
)

// Status is the outcome carried by a Reply.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Message is a frame sent by a client, or pushed to it by the server.
// An empty Ref means the client did not supply one.
type Message struct {
	Topic   string
	Event   string
	Payload any
	Ref     string
}

// Reply answers a Message on the same topic, echoing its Ref.
type Reply struct {
	Ref     string
	Topic   string
	Status  Status
	Payload any
}

// Broadcast is a message fanned out through pubsub to every subscriber of Topic.
type Broadcast struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// EmptyPayload returns the canonical empty object payload.
func EmptyPayload() map[string]any {
	return map[string]any{}
}

// CloseMessage tells the client that the channel bound to topic closed normally.
func CloseMessage(topic string) Message {
	return Message{Topic: topic, Event: EventClose, Payload: EmptyPayload()}
}

// ErrorMessage tells the client that the channel bound to topic crashed.
func ErrorMessage(topic string) Message {
	return Message{Topic: topic, Event: EventError, Payload: EmptyPayload()}
}

// IsHeartbeat reports whether m is a protocol heartbeat.
func (m Message) IsHeartbeat() bool {
	return m.Topic == TopicPhoenix && m.Event == EventHeartbeat
}

// OK builds a successful Reply for m.
func (m Message) OK(payload any) Reply {
	return Reply{Ref: m.Ref, Topic: m.Topic, Status: StatusOK, Payload: payload}
}

// Error builds an error Reply for m.
func (m Message) Error(payload any) Reply {
	return Reply{Ref: m.Ref, Topic: m.Topic, Status: StatusError, Payload: payload}
}

// Reason wraps a human readable reason into the conventional error payload.
func Reason(reason string) map[string]any {
	return map[string]any{"reason": reason}
}

// DisconnectBroadcast asks every connection identified by socketID to shut
// down.
func DisconnectBroadcast(socketID string) Broadcast {
	return Broadcast{Topic: socketID, Event: EventDisconnect, Payload: EmptyPayload()}
}
