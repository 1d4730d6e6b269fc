package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/geenii/geenii-shell/internal/history"
)

func TestSQLiteSink_SendAndCount(t *testing.T) {
	ctx := context.Background()
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()

	events := []history.Event{
		{Type: history.EventSpawn, OccurredAt: time.Now(), Name: "geenii-srv", PID: 42, ExitCode: -1},
		{Type: history.EventTerminated, OccurredAt: time.Now(), Name: "geenii-srv", PID: 42, ExitCode: 0},
		{Type: history.EventSweep, OccurredAt: time.Now(), Name: "geenii-srv", ExitCode: -1, Detail: "pkill -f geenii-srv"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Send %s: %v", e.Type, err)
		}
	}
	total, err := sink.Count(ctx, "")
	if err != nil || total != 3 {
		t.Fatalf("Count all = %d, %v; want 3", total, err)
	}
	spawns, err := sink.Count(ctx, history.EventSpawn)
	if err != nil || spawns != 1 {
		t.Fatalf("Count spawn = %d, %v; want 1", spawns, err)
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{Type: history.EventKill, Name: "x", PID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n, _ := sink.Count(context.Background(), history.EventKill); n != 1 {
		t.Fatalf("expected 1 kill event, got %d", n)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
