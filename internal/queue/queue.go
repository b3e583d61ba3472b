package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"pacekeeper/internal/eventbus"
	"pacekeeper/internal/storage"
	logx "pacekeeper/pkg/logx"
)

// Queue is the durable, crash-recoverable store of work items.
//
// Every operation is one read-modify-write-persist cycle under a single
// mutex. That serializes mutations completely; acceptable because the
// system is paced at human speed, not at throughput.
//
// Events are published after the mutex is released: bus delivery is
// synchronous and subscribers (the brain) call back into the queue.
type Queue struct {
	log   logx.Logger
	bus   *eventbus.Bus
	store storage.DocStore

	mu sync.Mutex
}

func New(store storage.DocStore, bus *eventbus.Bus, log logx.Logger) *Queue {
	return &Queue{
		log:   log.With(logx.String("component", "queue")),
		bus:   bus,
		store: store,
	}
}

// load reads the persisted item list. Absence or corruption yields an empty
// queue; the next write reinitializes the document.
func (q *Queue) load(ctx context.Context) []WorkItem {
	b, err := q.store.Load(ctx, storage.DocQueue)
	if err != nil {
		if err != storage.ErrNotFound {
			q.log.Warn("queue document unreadable, starting empty", logx.Err(err))
		}
		return nil
	}
	var items []WorkItem
	if err := json.Unmarshal(b, &items); err != nil {
		q.log.Warn("queue document corrupt, starting empty", logx.Err(err))
		return nil
	}
	return items
}

func (q *Queue) save(ctx context.Context, items []WorkItem) {
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		q.log.Error("marshal queue", logx.Err(err))
		return
	}
	if err := q.store.Save(ctx, storage.DocQueue, b); err != nil {
		q.log.Error("persist queue", logx.Err(err))
	}
}

// Add enqueues a key, deduplicating by key:
//   - a completed entry is reset for reprocessing,
//   - a pending entry only has its urgency upgraded,
//   - otherwise a new entry is appended.
//
// A queue-updated event is always published.
func (q *Queue) Add(ctx context.Context, key string, urgent bool, initiator string) bool {
	q.mu.Lock()

	now := time.Now()
	items := q.load(ctx)
	action := "added"

	found := false
	for i := range items {
		if items[i].Key != key {
			continue
		}
		found = true
		action = "updated"
		if items[i].Done {
			// Re-submission of a completed key means "reprocess".
			items[i].Done = false
			items[i].Status = StatusQueued
			items[i].Urgent = urgent || items[i].Urgent
			if initiator != "" {
				items[i].Initiator = initiator
			}
			items[i].UpdatedAt = now
			q.log.Info("item marked for reprocessing", logx.String("key", key))
		} else if urgent && !items[i].Urgent {
			items[i].Urgent = true
			items[i].UpdatedAt = now
			q.log.Info("item upgraded to urgent", logx.String("key", key))
		} else {
			q.log.Debug("item already queued", logx.String("key", key))
		}
		break
	}

	if !found {
		items = append(items, WorkItem{
			Key:       key,
			Urgent:    urgent,
			Initiator: initiator,
			Status:    StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		})
		q.log.Info("item added", logx.String("key", key), logx.Bool("urgent", urgent))
	}
	q.save(ctx, items)
	q.mu.Unlock()

	q.publish(eventbus.EventQueueUpdated, Update{Action: action, Key: key})
	return true
}

// Next returns up to n pending items, urgent first, then oldest first.
// Ties on both keys preserve original insertion order (the sort is stable).
func (q *Queue) Next(ctx context.Context, n int) []WorkItem {
	return q.next(ctx, n, false)
}

// NextIncludingDone is Next without the done-state filter.
func (q *Queue) NextIncludingDone(ctx context.Context, n int) []WorkItem {
	return q.next(ctx, n, true)
}

func (q *Queue) next(ctx context.Context, n int, includeDone bool) []WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.load(ctx)
	filtered := make([]WorkItem, 0, len(items))
	for _, it := range items {
		if includeDone || !it.Done {
			filtered = append(filtered, it)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Urgent != filtered[j].Urgent {
			return filtered[i].Urgent
		}
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	if n > 0 && len(filtered) > n {
		filtered = filtered[:n]
	}
	return filtered
}

// MarkStatus updates an item's status. done flips to true only on the
// terminal success status. Returns false for unknown keys.
func (q *Queue) MarkStatus(ctx context.Context, key string, status Status, metadata map[string]any) bool {
	q.mu.Lock()

	items := q.load(ctx)
	found := false
	for i := range items {
		if items[i].Key != key {
			continue
		}
		found = true
		items[i].Status = status
		items[i].UpdatedAt = time.Now()
		if status == StatusCompleted {
			items[i].Done = true
		}
		if len(metadata) > 0 {
			if items[i].Metadata == nil {
				items[i].Metadata = map[string]any{}
			}
			for k, v := range metadata {
				items[i].Metadata[k] = v
			}
		}
		q.save(ctx, items)
		break
	}
	q.mu.Unlock()

	if !found {
		q.log.Warn("item not found", logx.String("key", key))
		return false
	}

	switch status {
	case StatusCompleted:
		q.publish(eventbus.EventItemSucceeded, ItemOutcome{Key: key, Status: status, Metadata: metadata})
	case StatusFailed:
		q.publish(eventbus.EventItemFailed, ItemOutcome{Key: key, Status: status, Metadata: metadata})
	default:
		q.publish(eventbus.EventQueueUpdated, Update{Action: "updated", Key: key})
	}
	q.log.Info("item status updated", logx.String("key", key), logx.String("status", string(status)))
	return true
}

// Stats computes queue counters in one pass.
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.load(ctx)
	st := Stats{
		Total:        len(items),
		StatusCounts: map[Status]int{},
		LastUpdated:  time.Now(),
	}
	for _, it := range items {
		if it.Done {
			st.Completed++
		} else {
			st.Pending++
			if it.Urgent {
				st.Urgent++
			}
		}
		st.StatusCounts[it.Status]++
	}
	return st
}

// Snapshot returns a copy of every item, in stored order.
func (q *Queue) Snapshot(ctx context.Context) []WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]WorkItem(nil), q.load(ctx)...)
}

// Clear empties the store.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.save(ctx, []WorkItem{})
	q.mu.Unlock()
	q.log.Info("queue cleared")
	q.publish(eventbus.EventQueueUpdated, Update{Action: "cleared"})
}

func (q *Queue) publish(eventType string, data any) {
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Type: eventType, Data: data})
	}
}
