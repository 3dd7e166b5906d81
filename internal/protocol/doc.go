// Package protocol defines the wire shapes exchanged between socket clients
// and the gateway.
//
// Three shapes exist:
//   - Message: inbound client frames and server pushes ({topic, event, payload, ref})
//   - Reply: a correlated answer to a Message, echoing its ref
//   - Broadcast: a pubsub fan-out notification ({topic, event, payload})
//
// The reserved topic "phoenix" carries protocol-level control (heartbeat).
// Server-synthesized control messages (phx_close, phx_error) are built with
// CloseMessage and ErrorMessage.
//
// Encoding is delegated to a Serializer. JSONSerializer is the default and
// decodes frames into a fixed set of struct fields; unknown keys are dropped.
package protocol
