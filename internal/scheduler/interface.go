package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_maintenance.go -package=mocks github.com/mattjoyce/channelgw/internal/scheduler SessionStore,RoomStore

// SessionStore is the session log operations maintenance runs.
type SessionStore interface {
	CloseOrphans(ctx context.Context, reason string) (int, error)
	PruneClosed(ctx context.Context, retention time.Duration) (int, error)
}

// RoomStore is the room history operations maintenance runs.
type RoomStore interface {
	Trim(ctx context.Context, keep int) (int, error)
}
