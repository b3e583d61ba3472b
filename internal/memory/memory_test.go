package memory

import (
	"context"
	"testing"
	"time"

	"pacekeeper/internal/storage"
	logx "pacekeeper/pkg/logx"
)

func TestRecordSessionBucketsAndCounters(t *testing.T) {
	t.Parallel()
	m := New(storage.NewMem(), logx.Nop())
	ctx := context.Background()

	start := time.Date(2026, 3, 14, 11, 5, 0, 0, time.Local)
	m.RecordSession(ctx, SessionSummary{
		ID:             "s1",
		Type:           "regular",
		StartTime:      start,
		EndTime:        start.Add(6 * time.Minute),
		ItemsCompleted: 4,
		ItemsFailed:    1,
	})
	m.RecordSession(ctx, SessionSummary{
		ID:             "s2",
		Type:           "quick",
		StartTime:      start.Add(30 * time.Minute),
		EndTime:        start.Add(33 * time.Minute),
		ItemsCompleted: 2,
	})
	// Different hour.
	m.RecordSession(ctx, SessionSummary{
		ID:        "s3",
		StartTime: start.Add(time.Hour),
		EndTime:   start.Add(time.Hour + 5*time.Minute),
	})

	if n := m.SessionsInHour(ctx, start); n != 2 {
		t.Fatalf("SessionsInHour(11) = %d, want 2", n)
	}
	if n := m.SessionsInHour(ctx, start.Add(time.Hour)); n != 1 {
		t.Fatalf("SessionsInHour(12) = %d, want 1", n)
	}
	if n := m.SessionsInHour(ctx, start.AddDate(0, 0, 1)); n != 0 {
		t.Fatalf("next day should be empty, got %d", n)
	}

	end, ok := m.LastSessionEnd(ctx, start)
	if !ok || !end.Equal(start.Add(33*time.Minute)) {
		t.Fatalf("LastSessionEnd = %v, %v", end, ok)
	}

	st := m.Stats(ctx)
	if st.TotalSessions != 3 || st.TotalItemsCompleted != 6 || st.TotalItemsFailed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRecordItemOutcomeHistory(t *testing.T) {
	t.Parallel()
	m := New(storage.NewMem(), logx.Nop())
	ctx := context.Background()

	m.RecordItemOutcome(ctx, "p1", "in_progress", nil)
	m.RecordItemOutcome(ctx, "p1", "completed", map[string]any{"bytes": 42})

	rec, ok := m.ItemHistory(ctx, "p1")
	if !ok {
		t.Fatal("item record not found")
	}
	if rec.LastStatus != "completed" {
		t.Fatalf("last status = %s", rec.LastStatus)
	}
	if len(rec.History) != 2 {
		t.Fatalf("history len = %d", len(rec.History))
	}
	if rec.FirstSeen.After(rec.LastUpdated) {
		t.Fatal("first_seen after last_updated")
	}

	if _, ok := m.ItemHistory(ctx, "ghost"); ok {
		t.Fatal("unknown key should report no record")
	}
}

func TestCorruptMemoryReinitializes(t *testing.T) {
	t.Parallel()
	store := storage.NewMem()
	_ = store.Save(context.Background(), storage.DocMemory, []byte("##"))
	m := New(store, logx.Nop())

	if st := m.Stats(context.Background()); st.TotalSessions != 0 {
		t.Fatalf("corrupt memory should zero aggregates, got %+v", st)
	}
	m.RecordItemOutcome(context.Background(), "p1", "failed", nil)
	if _, ok := m.ItemHistory(context.Background(), "p1"); !ok {
		t.Fatal("write after reinitialization lost")
	}
}

func TestMemorySurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m := New(store, logx.Nop())
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.Local)
	m.RecordSession(context.Background(), SessionSummary{ID: "s1", StartTime: start, EndTime: start.Add(time.Minute)})
	_ = store.Close()

	store2, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	m2 := New(store2, logx.Nop())
	if n := m2.SessionsInHour(context.Background(), start); n != 1 {
		t.Fatalf("session lost across reopen, got %d", n)
	}
}
