package queue

import (
	"context"
	"testing"
	"time"

	"pacekeeper/internal/eventbus"
	"pacekeeper/internal/storage"
	logx "pacekeeper/pkg/logx"
)

func newTestQueue(t *testing.T) (*Queue, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(logx.Nop())
	return New(storage.NewMem(), bus, logx.Nop()), bus
}

func TestAddDedup(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Add(ctx, "p1", false, "test")
	q.Add(ctx, "p1", false, "test")
	if st := q.Stats(ctx); st.Total != 1 {
		t.Fatalf("duplicate add increased total: %d", st.Total)
	}

	// Urgency upgrade on a pending key.
	q.Add(ctx, "p1", true, "test")
	items := q.Next(ctx, 1)
	if len(items) != 1 || !items[0].Urgent {
		t.Fatalf("expected urgency upgrade, got %+v", items)
	}

	// Re-submission after completion resets for reprocessing.
	q.MarkStatus(ctx, "p1", StatusCompleted, nil)
	if st := q.Stats(ctx); st.Pending != 0 || st.Completed != 1 {
		t.Fatalf("after completion: %+v", st)
	}
	q.Add(ctx, "p1", false, "test")
	st := q.Stats(ctx)
	if st.Total != 1 {
		t.Fatalf("reprocess created duplicate record: total=%d", st.Total)
	}
	if st.Pending != 1 {
		t.Fatalf("reprocessed key not pending: %+v", st)
	}
	items = q.Next(ctx, 1)
	if len(items) != 1 || items[0].Done || items[0].Status != StatusQueued {
		t.Fatalf("reprocessed item not reset: %+v", items)
	}
}

func TestNextOrdering(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// A(urgent, early), B(not urgent, early), C(urgent, late).
	q.Add(ctx, "A", true, "")
	time.Sleep(2 * time.Millisecond)
	q.Add(ctx, "B", false, "")
	time.Sleep(2 * time.Millisecond)
	q.Add(ctx, "C", true, "")

	got := q.Next(ctx, 3)
	if len(got) != 3 {
		t.Fatalf("Next(3) returned %d items", len(got))
	}
	want := []string{"A", "C", "B"}
	for i, k := range want {
		if got[i].Key != k {
			t.Fatalf("ordering = [%s %s %s], want %v", got[0].Key, got[1].Key, got[2].Key, want)
		}
	}

	// Done items are excluded unless asked for.
	q.MarkStatus(ctx, "A", StatusCompleted, nil)
	if got := q.Next(ctx, 3); len(got) != 2 {
		t.Fatalf("Next should skip done items, got %d", len(got))
	}
	if got := q.NextIncludingDone(ctx, 3); len(got) != 3 {
		t.Fatalf("NextIncludingDone should include done items, got %d", len(got))
	}
}

func TestMarkStatusEvents(t *testing.T) {
	t.Parallel()
	q, bus := newTestQueue(t)
	ctx := context.Background()

	var succeeded, failed, updated int
	_ = bus.Subscribe(eventbus.EventItemSucceeded, "t", func(eventbus.Event) { succeeded++ })
	_ = bus.Subscribe(eventbus.EventItemFailed, "t", func(eventbus.Event) { failed++ })
	_ = bus.Subscribe(eventbus.EventQueueUpdated, "t", func(eventbus.Event) { updated++ })

	q.Add(ctx, "p1", false, "")
	q.Add(ctx, "p2", false, "")
	q.MarkStatus(ctx, "p1", StatusInProgress, nil)
	q.MarkStatus(ctx, "p1", StatusCompleted, map[string]any{"bytes": 1234})
	q.MarkStatus(ctx, "p2", StatusFailed, nil)

	if succeeded != 1 || failed != 1 {
		t.Fatalf("succeeded=%d failed=%d", succeeded, failed)
	}
	if updated != 3 { // two adds + one in_progress update
		t.Fatalf("updated=%d, want 3", updated)
	}

	if q.MarkStatus(ctx, "ghost", StatusCompleted, nil) {
		t.Fatal("MarkStatus on unknown key should return false")
	}
}

func TestScenarioSubmitAndComplete(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, k := range []string{"p1", "p2", "p3"} {
		q.Add(ctx, k, false, "")
	}
	got := q.Next(ctx, 2)
	if len(got) != 2 || got[0].Key != "p1" || got[1].Key != "p2" {
		t.Fatalf("Next(2) = %+v", got)
	}
	q.MarkStatus(ctx, "p1", StatusCompleted, nil)
	st := q.Stats(ctx)
	if st.Completed != 1 || st.Pending != 2 {
		t.Fatalf("stats = %+v, want completed=1 pending=2", st)
	}
}

func TestCorruptDocumentTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	store := storage.NewMem()
	_ = store.Save(context.Background(), storage.DocQueue, []byte("{not json"))
	q := New(store, nil, logx.Nop())

	if st := q.Stats(context.Background()); st.Total != 0 {
		t.Fatalf("corrupt doc should read as empty, got %+v", st)
	}
	// Next write reinitializes.
	q.Add(context.Background(), "p1", false, "")
	if st := q.Stats(context.Background()); st.Total != 1 {
		t.Fatalf("reinitialized queue should hold the new item, got %+v", st)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	q, bus := newTestQueue(t)
	ctx := context.Background()

	q.Add(ctx, "p1", false, "")
	q.Clear(ctx)
	if st := q.Stats(ctx); st.Total != 0 {
		t.Fatalf("clear left items: %+v", st)
	}

	events := bus.History(eventbus.EventQueueUpdated)
	last := events[len(events)-1].Data.(Update)
	if last.Action != "cleared" {
		t.Fatalf("last queue event = %+v, want cleared", last)
	}
}
