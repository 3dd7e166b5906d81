// Package inspect renders offline reports over a room's stored history.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/channelgw/internal/rooms"
)

// ErrEmptyRoom is returned when a topic has no stored messages.
var ErrEmptyRoom = errors.New("room has no stored messages")

// Report is the structured JSON representation of a room report.
type Report struct {
	Topic    string          `json:"topic"`
	Messages int             `json:"messages"`
	LastSeq  int64           `json:"last_seq"`
	FirstAt  time.Time       `json:"first_at"`
	LastAt   time.Time       `json:"last_at"`
	Authors  []AuthorCount   `json:"authors"`
	Recent   []rooms.Message `json:"recent"`
}

// AuthorCount is how many messages one author posted.
type AuthorCount struct {
	Author   string `json:"author"`
	Messages int    `json:"messages"`
}

// BuildReport renders a terminal-friendly report for topic with its last
// limit messages.
func BuildReport(ctx context.Context, db *sql.DB, topic string, limit int) (string, error) {
	report, err := gatherReportData(ctx, db, topic, limit)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Room Report\n")
	fmt.Fprintf(&out, "Topic       : %s\n", report.Topic)
	fmt.Fprintf(&out, "Messages    : %d\n", report.Messages)
	fmt.Fprintf(&out, "Last seq    : %d\n", report.LastSeq)
	fmt.Fprintf(&out, "First at    : %s\n", report.FirstAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Last at     : %s\n", report.LastAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Authors\n")
	for _, a := range report.Authors {
		fmt.Fprintf(&out, "  %-20s %d\n", displayAuthor(a.Author), a.Messages)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Recent (%d)\n", len(report.Recent))
	for _, m := range report.Recent {
		fmt.Fprintf(&out, "[%d] %s %s\n", m.Seq, m.InsertedAt.Format(time.RFC3339), displayAuthor(m.Author))
		for _, line := range strings.Split(strings.TrimSpace(m.Body), "\n") {
			fmt.Fprintf(&out, "    %s\n", line)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable room report.
func BuildJSONReport(ctx context.Context, db *sql.DB, topic string, limit int) (string, error) {
	report, err := gatherReportData(ctx, db, topic, limit)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, db *sql.DB, topic string, limit int) (*Report, error) {
	report := &Report{Topic: topic}

	var first, last sql.NullString
	err := db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(MAX(seq), 0), MIN(created_at), MAX(created_at)
FROM room_messages
WHERE topic = ?;
`, topic).Scan(&report.Messages, &report.LastSeq, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("query room summary: %w", err)
	}
	if report.Messages == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyRoom, topic)
	}
	if report.FirstAt, err = time.Parse(time.RFC3339Nano, first.String); err != nil {
		return nil, fmt.Errorf("parse first created_at: %w", err)
	}
	if report.LastAt, err = time.Parse(time.RFC3339Nano, last.String); err != nil {
		return nil, fmt.Errorf("parse last created_at: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
SELECT author, COUNT(*) AS n
FROM room_messages
WHERE topic = ?
GROUP BY author
ORDER BY n DESC, author ASC;
`, topic)
	if err != nil {
		return nil, fmt.Errorf("query room authors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a AuthorCount
		if err := rows.Scan(&a.Author, &a.Messages); err != nil {
			return nil, fmt.Errorf("scan room author: %w", err)
		}
		report.Authors = append(report.Authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room authors: %w", err)
	}

	report.Recent, err = rooms.NewStore(db).History(ctx, topic, limit)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func displayAuthor(author string) string {
	if author == "" {
		return "<anonymous>"
	}
	return author
}
