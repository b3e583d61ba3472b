package state

import "time"

// Payload is the data attached to a transition. It is replaced wholesale on
// every successful transition, never merged, so readers always see one
// coherent shape.
//
// The known shapes are a closed set; components switch on the concrete type.
type Payload interface {
	isPayload()
}

// PlanPayload travels with PlanningNextSession -> SessionStarting.
type PlanPayload struct {
	SessionID    string        `json:"session_id"`
	Type         string        `json:"type"`
	PlannedStart time.Time     `json:"planned_start"`
	Duration     time.Duration `json:"planned_duration"`
	MaxItems     int           `json:"max_items"`
}

// SessionPayload travels with SessionStarting -> SessionRunning.
type SessionPayload struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// CooldownPayload travels with SessionEnding -> CooldownPeriod.
type CooldownPayload struct {
	SessionID   string        `json:"session_id"`
	Cooldown    time.Duration `json:"cooldown"`
	CooldownEnd time.Time     `json:"cooldown_end"`
}

// ErrorPayload travels with any transition into Error.
type ErrorPayload struct {
	Err   string `json:"error"`
	Stack string `json:"stack,omitempty"`
}

func (PlanPayload) isPayload()     {}
func (SessionPayload) isPayload()  {}
func (CooldownPayload) isPayload() {}
func (ErrorPayload) isPayload()    {}
