package rooms

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultHistoryLimit = 50

// Message is one stored chat message.
type Message struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Topic      string    `json:"topic"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	InsertedAt time.Time `json:"inserted_at"`
}

// Store keeps per-room message history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Append stores a message in topic, assigning the next sequence number.
func (s *Store) Append(ctx context.Context, topic, author, body string) (*Message, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("room topic is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM room_messages WHERE topic = ?;", topic).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("read room sequence: %w", err)
	}

	msg := &Message{
		ID:         uuid.NewString(),
		Seq:        last + 1,
		Topic:      topic,
		Author:     author,
		Body:       body,
		InsertedAt: s.now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO room_messages(id, seq, topic, author, body, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, msg.ID, msg.Seq, msg.Topic, msg.Author, msg.Body, msg.InsertedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert room message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return msg, nil
}

// History returns the last limit messages of topic, oldest first.
func (s *Store) History(ctx context.Context, topic string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, seq, topic, author, body, created_at FROM (
  SELECT id, seq, topic, author, body, created_at
  FROM room_messages
  WHERE topic = ?
  ORDER BY seq DESC
  LIMIT ?
) ORDER BY seq ASC;
`, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("query room history: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m         Message
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Seq, &m.Topic, &m.Author, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan room message: %w", err)
		}
		m.InsertedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse room_messages.created_at: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room history: %w", err)
	}
	return out, nil
}

// Trim deletes all but the newest keep messages of every room and returns
// how many were removed.
func (s *Store) Trim(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("trim keep must be positive")
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM room_messages
WHERE id IN (
  SELECT m.id FROM room_messages m
  WHERE m.seq <= (
    SELECT COALESCE(MAX(seq), 0) FROM room_messages WHERE topic = m.topic
  ) - ?
);
`, keep)
	if err != nil {
		return 0, fmt.Errorf("trim room history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim room history: %w", err)
	}
	return int(n), nil
}
