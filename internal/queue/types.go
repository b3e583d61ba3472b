package queue

import "time"

// Status tracks a work item through its lifecycle.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// WorkItem is one unit of the queue, keyed by a normalized identifier
// (typically a URL). At most one live entry exists per key.
type WorkItem struct {
	Key       string         `json:"key"`
	Done      bool           `json:"done"`
	Urgent    bool           `json:"urgent"`
	Initiator string         `json:"initiator"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes the queue for scheduling decisions and diagnostics.
type Stats struct {
	Total        int            `json:"total"`
	Pending      int            `json:"pending"`
	Completed    int            `json:"completed"`
	Urgent       int            `json:"urgent"`
	StatusCounts map[Status]int `json:"status_counts"`
	LastUpdated  time.Time      `json:"last_updated"`
}

// Update is the payload of queue-updated events.
type Update struct {
	Action string `json:"action"` // "added", "updated", "cleared"
	Key    string `json:"key,omitempty"`
}

// ItemOutcome is the payload of item-succeeded / item-failed events.
type ItemOutcome struct {
	Key      string         `json:"key"`
	Status   Status         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
