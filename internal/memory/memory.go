package memory

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"pacekeeper/internal/storage"
	logx "pacekeeper/pkg/logx"
)

// Memory is the durable history the scheduler consults for rate limiting:
// "how many sessions already happened this hour", "when did the last one
// end". Reads and writes are whole-document cycles under one mutex.
//
// A missing or corrupt document reinitializes to an empty structure with
// zeroed aggregates. Nothing here ever raises to the caller.
type Memory struct {
	log   logx.Logger
	store storage.DocStore

	mu sync.Mutex
}

func New(store storage.DocStore, log logx.Logger) *Memory {
	return &Memory{
		log:   log.With(logx.String("component", "memory")),
		store: store,
	}
}

func (m *Memory) load(ctx context.Context) document {
	b, err := m.store.Load(ctx, storage.DocMemory)
	if err != nil {
		if err != storage.ErrNotFound {
			m.log.Warn("memory document unreadable, reinitializing", logx.Err(err))
		}
		return emptyDocument()
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		m.log.Warn("memory document corrupt, reinitializing", logx.Err(err))
		return emptyDocument()
	}
	if doc.Days == nil {
		doc.Days = map[string]map[string]hourBucket{}
	}
	if doc.Items == nil {
		doc.Items = map[string]ItemRecord{}
	}
	return doc
}

func (m *Memory) save(ctx context.Context, doc document) {
	doc.LastUpdated = time.Now()
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		m.log.Error("marshal memory", logx.Err(err))
		return
	}
	if err := m.store.Save(ctx, storage.DocMemory, b); err != nil {
		m.log.Error("persist memory", logx.Err(err))
	}
}

func dayKey(t time.Time) string  { return t.Format("2006-01-02") }
func hourKey(t time.Time) string { return strconv.Itoa(t.Hour()) }

// RecordSession appends the summary under its start day and hour and bumps
// the aggregate counters.
func (m *Memory) RecordSession(ctx context.Context, s SessionSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load(ctx)
	day := dayKey(s.StartTime)
	hour := hourKey(s.StartTime)

	if doc.Days[day] == nil {
		doc.Days[day] = map[string]hourBucket{}
	}
	bucket := doc.Days[day][hour]
	bucket.Sessions = append(bucket.Sessions, s)
	doc.Days[day][hour] = bucket

	doc.Statistics.TotalSessions++
	doc.Statistics.TotalItemsCompleted += s.ItemsCompleted
	doc.Statistics.TotalItemsFailed += s.ItemsFailed

	m.save(ctx, doc)
	m.log.Debug("session recorded",
		logx.String("session", s.ID),
		logx.String("day", day),
		logx.String("hour", hour))
}

// RecordItemOutcome appends one event to the item's history and updates its
// last-known status.
func (m *Memory) RecordItemOutcome(ctx context.Context, key, status string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load(ctx)
	now := time.Now()
	ev := ItemEvent{Timestamp: now, Status: status, Metadata: metadata}

	rec, ok := doc.Items[key]
	if !ok {
		rec = ItemRecord{FirstSeen: now}
	}
	rec.History = append(rec.History, ev)
	rec.LastStatus = status
	rec.LastUpdated = now
	doc.Items[key] = rec

	m.save(ctx, doc)
}

// SessionsInHour reports how many sessions were recorded for the hour
// containing t.
func (m *Memory) SessionsInHour(ctx context.Context, t time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load(ctx)
	return len(doc.Days[dayKey(t)][hourKey(t)].Sessions)
}

// LastSessionEnd returns the end time of the most recent session recorded in
// the hour containing t, if any.
func (m *Memory) LastSessionEnd(ctx context.Context, t time.Time) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load(ctx)
	sessions := doc.Days[dayKey(t)][hourKey(t)].Sessions
	if len(sessions) == 0 {
		return time.Time{}, false
	}
	last := sessions[len(sessions)-1]
	if last.EndTime.IsZero() {
		return time.Time{}, false
	}
	return last.EndTime, true
}

// ItemHistory returns a copy of everything recorded about one key.
func (m *Memory) ItemHistory(ctx context.Context, key string) (ItemRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.load(ctx)
	rec, ok := doc.Items[key]
	if !ok {
		return ItemRecord{}, false
	}
	rec.History = append([]ItemEvent(nil), rec.History...)
	return rec, true
}

// Stats returns the running aggregate counters.
func (m *Memory) Stats(ctx context.Context) Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx).Statistics
}
