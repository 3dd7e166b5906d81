package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/channelgw/internal/rooms"
	"github.com/mattjoyce/channelgw/internal/storage"
)

func TestBuildReportRendersSummaryAndRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := rooms.NewStore(db)
	for _, m := range []struct{ author, body string }{
		{"ana", "hello"},
		{"bo", "hi ana"},
		{"ana", "line one\nline two"},
	} {
		if _, err := store.Append(ctx, "room:lobby", m.author, m.body); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := store.Append(ctx, "room:other", "cy", "elsewhere"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	out, err := BuildReport(ctx, db, "room:lobby", 2)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{
		"Topic       : room:lobby",
		"Messages    : 3",
		"Last seq    : 3",
		"Recent (2)",
		"[2] ",
		"[3] ",
		"    line two",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "[1] ") || strings.Contains(out, "elsewhere") {
		t.Fatalf("report leaked messages outside the window:\n%s", out)
	}

	raw, err := BuildJSONReport(ctx, db, "room:lobby", 10)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}
	var report Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(report.Authors) != 2 || report.Authors[0] != (AuthorCount{Author: "ana", Messages: 2}) {
		t.Fatalf("authors = %+v", report.Authors)
	}
	if len(report.Recent) != 3 || report.Recent[0].Body != "hello" {
		t.Fatalf("recent = %+v", report.Recent)
	}
	if report.LastAt.Before(report.FirstAt) {
		t.Fatalf("last_at %v before first_at %v", report.LastAt, report.FirstAt)
	}
}

func TestBuildReportEmptyRoom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := BuildReport(ctx, db, "room:void", 5); !errors.Is(err, ErrEmptyRoom) {
		t.Fatalf("expected ErrEmptyRoom, got %v", err)
	}
}
