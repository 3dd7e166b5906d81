package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrInvalidFrame is returned when a frame cannot be decoded into a Message.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Serializer converts protocol values to and from transport frames.
type Serializer interface {
	EncodeMessage(msg Message) ([]byte, error)
	EncodeReply(reply Reply) ([]byte, error)
	EncodeBroadcast(b Broadcast) ([]byte, error)
	DecodeMessage(data []byte) (Message, error)
	DecodeReply(data []byte) (Reply, error)
	DecodeBroadcast(data []byte) (Broadcast, error)
}

// JSONSerializer encodes frames as JSON objects.
type JSONSerializer struct{}

// wireRef is a ref as it appears on the wire. Clients send strings, numbers
// or null; the gateway always answers with a string or null.
type wireRef string

func (r wireRef) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

func (r *wireRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = wireRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("ref must be a string, number or null")
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("ref must be a string, number or null")
	}
	*r = wireRef(n.String())
	return nil
}

type wireMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     wireRef         `json:"ref"`
}

type wireReplyPayload struct {
	Status   Status          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// EncodeMessage encodes msg. A nil payload is written as an empty object.
func (JSONSerializer) EncodeMessage(msg Message) ([]byte, error) {
	payload, err := encodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		Topic:   msg.Topic,
		Event:   msg.Event,
		Payload: payload,
		Ref:     wireRef(msg.Ref),
	})
}

// EncodeReply encodes reply as a phx_reply message whose payload carries the
// status and the response.
func (JSONSerializer) EncodeReply(reply Reply) ([]byte, error) {
	response, err := encodePayload(reply.Payload)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(wireReplyPayload{Status: reply.Status, Response: response})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply payload: %w", err)
	}
	return json.Marshal(wireMessage{
		Topic:   reply.Topic,
		Event:   EventReply,
		Payload: payload,
		Ref:     wireRef(reply.Ref),
	})
}

// EncodeBroadcast encodes b for pubsub adapters that carry raw bytes.
func (JSONSerializer) EncodeBroadcast(b Broadcast) ([]byte, error) {
	payload, err := encodePayload(b.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Topic   string          `json:"topic"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}{b.Topic, b.Event, payload})
}

// DecodeMessage decodes a client frame. Topic and event are required.
func (JSONSerializer) DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if w.Topic == "" {
		return Message{}, fmt.Errorf("%w: missing topic", ErrInvalidFrame)
	}
	if w.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event", ErrInvalidFrame)
	}
	payload, err := decodePayload(w.Payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: w.Topic, Event: w.Event, Payload: payload, Ref: string(w.Ref)}, nil
}

// DecodeReply decodes a phx_reply frame.
func (JSONSerializer) DecodeReply(data []byte) (Reply, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if w.Event != EventReply {
		return Reply{}, fmt.Errorf("%w: event %q is not a reply", ErrInvalidFrame, w.Event)
	}
	var rp wireReplyPayload
	if err := json.Unmarshal(w.Payload, &rp); err != nil {
		return Reply{}, fmt.Errorf("%w: reply payload: %v", ErrInvalidFrame, err)
	}
	if rp.Status != StatusOK && rp.Status != StatusError {
		return Reply{}, fmt.Errorf("%w: invalid reply status %q", ErrInvalidFrame, rp.Status)
	}
	response, err := decodePayload(rp.Response)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Ref: string(w.Ref), Topic: w.Topic, Status: rp.Status, Payload: response}, nil
}

// DecodeBroadcast decodes bytes written by EncodeBroadcast.
func (JSONSerializer) DecodeBroadcast(data []byte) (Broadcast, error) {
	var w struct {
		Topic   string          `json:"topic"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Broadcast{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if w.Topic == "" || w.Event == "" {
		return Broadcast{}, fmt.Errorf("%w: broadcast missing topic or event", ErrInvalidFrame)
	}
	payload, err := decodePayload(w.Payload)
	if err != nil {
		return Broadcast{}, err
	}
	return Broadcast{Topic: w.Topic, Event: w.Event, Payload: payload}, nil
}

func encodePayload(p any) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// decodePayload keeps numbers as json.Number so a decode/encode cycle
// reproduces the original digits.
func decodePayload(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return EmptyPayload(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidFrame, err)
	}
	return v, nil
}
