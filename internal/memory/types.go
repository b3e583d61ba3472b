package memory

import "time"

// SessionSummary is the durable record of one finished session.
// Extra carries executor-reported fields we pass through opaquely.
type SessionSummary struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	PlannedDuration time.Duration  `json:"planned_duration"`
	ActualDuration  time.Duration  `json:"actual_duration"`
	ItemsStarted    int            `json:"items_started"`
	ItemsCompleted  int            `json:"items_completed"`
	ItemsFailed     int            `json:"items_failed"`
	Error           string         `json:"error,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// ItemEvent is one entry of an item's history log.
type ItemEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ItemRecord tracks everything ever observed about one work item.
type ItemRecord struct {
	FirstSeen   time.Time   `json:"first_seen"`
	LastUpdated time.Time   `json:"last_updated"`
	LastStatus  string      `json:"last_status"`
	History     []ItemEvent `json:"history"`
}

// Statistics are running aggregate counters. They are incremented on every
// write, never recomputed from the logs.
type Statistics struct {
	TotalSessions       int `json:"total_sessions"`
	TotalItemsCompleted int `json:"total_items_completed"`
	TotalItemsFailed    int `json:"total_items_failed"`
}

// hourBucket groups the sessions recorded within one hour of one day.
type hourBucket struct {
	Sessions []SessionSummary `json:"sessions"`
}

// document is the persisted memory layout:
// day (ISO date) -> hour -> completed session summaries, plus per-item
// histories and aggregates. Append-only except for the counters.
type document struct {
	LastUpdated time.Time                        `json:"last_updated"`
	Days        map[string]map[string]hourBucket `json:"days"`
	Items       map[string]ItemRecord            `json:"items"`
	Statistics  Statistics                       `json:"statistics"`
}

func emptyDocument() document {
	return document{
		Days:  map[string]map[string]hourBucket{},
		Items: map[string]ItemRecord{},
	}
}
