package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/petal-labs/scribe/agent"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteStoreConfig{
		DSN: filepath.Join(t.TempDir(), "scribe.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := store.Append(ctx, Record{
			RunID:     "run-1",
			Iteration: i,
			StartedAt: time.Now(),
			Status:    StatusFinished,
			Reply:     `{"mcp_requests":[]}`,
		})
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	records, err := store.Recent(ctx, "run-1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Iteration != 3 || records[1].Iteration != 2 {
		t.Fatalf("iterations = %d, %d, want newest first", records[0].Iteration, records[1].Iteration)
	}
}

func TestRecentScopedToRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.Append(ctx, Record{RunID: "run-a", Iteration: 1, StartedAt: time.Now(), Status: StatusFinished})
	_ = store.Append(ctx, Record{RunID: "run-b", Iteration: 1, StartedAt: time.Now(), Status: StatusFailed})

	records, err := store.Recent(ctx, "run-a", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].RunID != "run-a" {
		t.Fatalf("RunID = %q, want run-a", records[0].RunID)
	}
}

func TestHandleJournalsTerminalEvents(t *testing.T) {
	store := newTestStore(t)

	store.Handle(agent.Event{
		Kind:      agent.EventIterationFinished,
		RunID:     "run-1",
		Iteration: 1,
		Time:      time.Now(),
		Elapsed:   50 * time.Millisecond,
		Payload:   map[string]any{"reply": `{"mcp_requests":[]}`},
	})
	store.Handle(agent.Event{
		Kind:      agent.EventIterationFailed,
		RunID:     "run-1",
		Iteration: 2,
		Time:      time.Now(),
		Payload:   map[string]any{"error": "parse failed", "reply": "prose"},
	})
	// Non-terminal events are not journaled.
	store.Handle(agent.Event{
		Kind:      agent.EventModelCompleted,
		RunID:     "run-1",
		Iteration: 3,
		Time:      time.Now(),
	})

	records, err := store.Recent(context.Background(), "run-1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Status != StatusFailed || records[0].Error != "parse failed" {
		t.Fatalf("newest record = %+v, want failed with error text", records[0])
	}
	if records[1].Status != StatusFinished {
		t.Fatalf("older record status = %q, want finished", records[1].Status)
	}
}
