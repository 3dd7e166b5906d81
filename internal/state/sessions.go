// Package state persists socket session history to SQLite.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/log"
)

const DefaultRecentLimit = 50

var ErrSessionNotFound = errors.New("socket session not found")

// Session is one connection owner's lifetime as recorded in socket_sessions.
type Session struct {
	Owner       string     `json:"owner"`
	SocketID    string     `json:"socket_id,omitempty"`
	Transport   string     `json:"transport"`
	ConnectedAt time.Time  `json:"connected_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool { return s.ClosedAt == nil }

// SessionLog records socket.connected and socket.closed lifecycle events.
type SessionLog struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewSessionLog(db *sql.DB) *SessionLog {
	return &SessionLog{
		db:     db,
		now:    time.Now,
		logger: log.WithComponent("sessions"),
	}
}

// Opened inserts a session row for a newly connected owner.
func (l *SessionLog) Opened(ctx context.Context, d events.SocketData) error {
	if strings.TrimSpace(d.Owner) == "" {
		return fmt.Errorf("session owner is empty")
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO socket_sessions(owner, socket_id, transport, connected_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(owner) DO NOTHING;
`, d.Owner, nullString(d.SocketID), d.Transport, l.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert socket session: %w", err)
	}
	return nil
}

// Closed stamps the close time and reason on an open session.
func (l *SessionLog) Closed(ctx context.Context, d events.SocketData) error {
	res, err := l.db.ExecContext(ctx, `
UPDATE socket_sessions SET closed_at = ?, reason = ?
WHERE owner = ? AND closed_at IS NULL;
`, l.now().UTC().Format(time.RFC3339Nano), d.Reason, d.Owner)
	if err != nil {
		return fmt.Errorf("close socket session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close socket session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CloseOrphans closes every session still open, stamping reason. Sessions
// left open by a previous run of the gateway are the only ones expected at
// startup.
func (l *SessionLog) CloseOrphans(ctx context.Context, reason string) (int, error) {
	res, err := l.db.ExecContext(ctx, `
UPDATE socket_sessions SET closed_at = ?, reason = ?
WHERE closed_at IS NULL;
`, l.now().UTC().Format(time.RFC3339Nano), reason)
	if err != nil {
		return 0, fmt.Errorf("close orphaned sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close orphaned sessions: %w", err)
	}
	return int(n), nil
}

// PruneClosed deletes sessions that closed more than retention ago.
func (l *SessionLog) PruneClosed(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `
DELETE FROM socket_sessions
WHERE closed_at IS NOT NULL AND julianday(closed_at) < julianday(?);
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune socket sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune socket sessions: %w", err)
	}
	return int(n), nil
}

// Get returns the session recorded for owner.
func (l *SessionLog) Get(ctx context.Context, owner string) (*Session, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT owner, socket_id, transport, connected_at, closed_at, reason
FROM socket_sessions WHERE owner = ?;
`, owner)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// Recent returns up to limit sessions, newest connection first.
func (l *SessionLog) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT owner, socket_id, transport, connected_at, closed_at, reason
FROM socket_sessions
ORDER BY julianday(connected_at) DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query socket sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate socket sessions: %w", err)
	}
	return out, nil
}

// Record applies one hub event. Events other than socket.* are ignored.
func (l *SessionLog) Record(ctx context.Context, ev events.Event) error {
	if ev.Type != events.SocketConnected && ev.Type != events.SocketClosed {
		return nil
	}
	var d events.SocketData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return fmt.Errorf("decode %s event: %w", ev.Type, err)
	}
	if ev.Type == events.SocketConnected {
		return l.Opened(ctx, d)
	}
	return l.Closed(ctx, d)
}

// Follow records events from stream until ctx is done or stream closes.
// Subscribe before connections are accepted so no socket.connected event
// is missed.
func (l *SessionLog) Follow(ctx context.Context, stream <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if err := l.Record(ctx, ev); err != nil {
				l.logger.Warn("failed to record socket session", "event", ev.Type, "error", err)
			}
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s          Session
		socketID   sql.NullString
		connectedS string
		closedS    sql.NullString
		reason     sql.NullString
	)
	if err := row.Scan(&s.Owner, &socketID, &s.Transport, &connectedS, &closedS, &reason); err != nil {
		return nil, err
	}
	s.SocketID = socketID.String
	s.Reason = reason.String

	connectedAt, err := time.Parse(time.RFC3339Nano, connectedS)
	if err != nil {
		return nil, fmt.Errorf("parse socket_sessions.connected_at: %w", err)
	}
	s.ConnectedAt = connectedAt
	if closedS.Valid {
		closedAt, err := time.Parse(time.RFC3339Nano, closedS.String)
		if err != nil {
			return nil, fmt.Errorf("parse socket_sessions.closed_at: %w", err)
		}
		s.ClosedAt = &closedAt
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
