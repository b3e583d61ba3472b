package eventbus

// Event type names used across the system.
//
// Payload shapes live next to their producers (queue, state, brain); this
// package only pins the names so producers and consumers agree.
const (
	EventQueueUpdated   = "queue.updated"
	EventSessionPlanned = "session.planned"
	EventSessionStarted = "session.started"
	EventSessionEnded   = "session.ended"
	EventItemSucceeded  = "item.succeeded"
	EventItemFailed     = "item.failed"
	EventStateChanged   = "state.changed"
	EventError          = "error"
)
