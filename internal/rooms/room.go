package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/channelgw/internal/auth"
	"github.com/mattjoyce/channelgw/internal/channel"
	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/socket"
)

// Client events handled by Room.
const (
	EventNewMessage = "new_msg"
	EventHistory    = "history"
)

const storeTimeout = 5 * time.Second

// Room is the channel behind every "room:<name>" topic.
type Room struct {
	store        *Store
	historyLimit int
	logger       *slog.Logger
}

func NewRoom(store *Store, historyLimit int) *Room {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Room{
		store:        store,
		historyLimit: historyLimit,
		logger:       log.WithComponent("rooms"),
	}
}

// Join replies with the room's recent history.
func (r *Room) Join(topic string, _ any, s *socket.Socket) (any, *socket.Socket, error) {
	if !allowed(s, auth.ScopeRoomsRead) {
		return nil, nil, channel.Deny("unauthorized")
	}
	history, err := r.history(topic)
	if err != nil {
		r.logger.Error("load room history failed", "topic", topic, "socket_id", s.ID, "error", err)
		return nil, nil, channel.Deny("internal error")
	}
	r.logger.Debug("joined room", "topic", topic, "socket_id", s.ID, "history", len(history))
	return map[string]any{"messages": history}, s, nil
}

func (r *Room) HandleIn(event string, payload any, s *socket.Socket) (socket.Result, error) {
	switch event {
	case EventNewMessage:
		return r.post(payload, s)
	case EventHistory:
		history, err := r.history(s.Topic)
		if err != nil {
			return socket.Result{}, err
		}
		return socket.ReplyOK(map[string]any{"messages": history}, s), nil
	}
	return socket.ReplyError(protocol.Reason("unknown event"), s), nil
}

func (r *Room) Terminate(reason error, s *socket.Socket) {
	r.logger.Debug("room channel stopped", "topic", s.Topic, "socket_id", s.ID, "reason", reason)
}

func (r *Room) post(payload any, s *socket.Socket) (socket.Result, error) {
	if !allowed(s, auth.ScopeRoomsWrite) {
		return socket.ReplyError(protocol.Reason("unauthorized"), s), nil
	}
	fields, _ := payload.(map[string]any)
	body, _ := fields["body"].(string)
	body = strings.TrimSpace(body)
	if body == "" {
		return socket.ReplyError(protocol.Reason("body is required"), s), nil
	}

	author, ok := userOf(s)
	if !ok {
		author = "anonymous"
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	msg, err := r.store.Append(ctx, s.Topic, author, body)
	if err != nil {
		return socket.Result{}, fmt.Errorf("store message: %w", err)
	}
	if err := s.Broadcast(ctx, EventNewMessage, msg); err != nil {
		return socket.Result{}, fmt.Errorf("broadcast message: %w", err)
	}
	return socket.ReplyOK(map[string]any{"id": msg.ID, "seq": msg.Seq}, s), nil
}

func (r *Room) history(topic string) ([]Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	history, err := r.store.History(ctx, topic, r.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return history, nil
}
