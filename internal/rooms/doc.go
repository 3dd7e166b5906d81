// Package rooms is a chat room application built on the gateway: a socket
// Handler that authenticates clients with optional bearer tokens, and a
// Channel serving "room:<name>" topics with history kept in SQLite.
//
// Clients join "room:lobby" and receive the most recent messages in the
// join reply. Pushing "new_msg" with {"body": "..."} stores the message and
// broadcasts it to every member of the room.
package rooms
