// Package dispatch decides what happens to each inbound client message.
//
// The dispatcher is consulted by a connection owner for every decoded
// message, together with the process currently bound to the message topic
// (nil when the topic is not joined). It never touches the owner's registry;
// instead it returns an Outcome that tells the owner what to do:
//
//   - ReplyNow: write the reply immediately (heartbeats)
//   - Registered: bind the new process to the topic and write the ok reply
//   - JoinRejected: write the error reply; nothing was spawned
//   - IgnoreError: write the error reply for an unroutable message
//   - Ack: the message was handed to the bound process; nothing to write
//
// Precedence, highest first:
//   - topic "phoenix" with event "heartbeat" is answered in place
//   - an unbound phx_join resolves the channel and performs a synchronous join
//   - any other unbound message is an unmatched topic
//   - a bound phx_leave asks the process to leave
//   - any other bound message, including a repeated phx_join, is delivered
package dispatch
