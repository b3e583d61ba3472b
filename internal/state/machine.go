package state

import (
	"sync"
	"time"

	"pacekeeper/internal/eventbus"
	logx "pacekeeper/pkg/logx"
)

// State is the operating mode of the scheduler.
type State string

const (
	Inactive             State = "inactive"
	WaitingForActiveHours State = "waiting_for_active_hours"
	PlanningNextSession  State = "planning_next_session"
	SessionStarting      State = "session_starting"
	SessionRunning       State = "session_running"
	SessionEnding        State = "session_ending"
	CooldownPeriod       State = "cooldown_period"
	Error                State = "error"
)

// validTransitions is the static adjacency set. Error is reachable from every
// state (the unconditional escape hatch) and only transitions back to the
// small recovery set.
var validTransitions = map[State]map[State]bool{
	Inactive: {
		WaitingForActiveHours: true,
		Error:                 true,
	},
	WaitingForActiveHours: {
		PlanningNextSession: true,
		Inactive:            true,
		Error:               true,
	},
	PlanningNextSession: {
		SessionStarting:       true,
		WaitingForActiveHours: true,
		Inactive:              true,
		Error:                 true,
	},
	SessionStarting: {
		SessionRunning: true,
		Inactive:       true,
		Error:          true,
	},
	SessionRunning: {
		SessionRunning: true, // stays here while items are processed
		SessionEnding:  true,
		Inactive:       true,
		Error:          true,
	},
	SessionEnding: {
		CooldownPeriod: true,
		Inactive:       true,
		Error:          true,
	},
	CooldownPeriod: {
		PlanningNextSession:   true,
		WaitingForActiveHours: true,
		Inactive:              true,
		Error:                 true,
	},
	Error: {
		Inactive:              true,
		WaitingForActiveHours: true,
		PlanningNextSession:   true,
	},
}

// Change records one transition for diagnostics and for the state-changed
// event payload.
type Change struct {
	Time     time.Time `json:"time"`
	OldState State     `json:"old_state"`
	NewState State     `json:"new_state"`
	Reason   string    `json:"reason"`
	Data     Payload   `json:"data,omitempty"`
}

const historyCap = 100

// Machine enforces legal operating-mode transitions and announces changes on
// the bus. All mutation happens under one mutex; reads return copies.
type Machine struct {
	log logx.Logger
	bus *eventbus.Bus

	mu      sync.Mutex
	current State
	data    Payload
	history []Change
}

func NewMachine(bus *eventbus.Bus, log logx.Logger) *Machine {
	m := &Machine{
		log:     log.With(logx.String("component", "state")),
		bus:     bus,
		current: Inactive,
	}
	m.record(Change{Time: time.Now(), NewState: Inactive, Reason: "initialization"})
	return m
}

// Transition attempts to move to newState. It returns false (no mutation)
// when newState is not adjacent to the current state.
//
// On success the state data is replaced wholesale by data (which may be nil)
// and a state-changed event is published.
func (m *Machine) Transition(newState State, reason string, data Payload) bool {
	m.mu.Lock()
	if !validTransitions[m.current][newState] {
		from := m.current
		m.mu.Unlock()
		m.log.Error("invalid state transition",
			logx.String("from", string(from)),
			logx.String("to", string(newState)),
			logx.String("reason", reason))
		return false
	}

	old := m.current
	m.current = newState
	m.data = data
	ch := Change{
		Time:     time.Now(),
		OldState: old,
		NewState: newState,
		Reason:   reason,
		Data:     data,
	}
	m.record(ch)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventStateChanged, Data: ch})
	}
	m.log.Info("state changed",
		logx.String("from", string(old)),
		logx.String("to", string(newState)),
		logx.String("reason", reason))
	return true
}

func (m *Machine) record(ch Change) {
	m.history = append(m.history, ch)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Data returns the payload attached to the last successful transition.
// Payload shapes are value types, so the returned copy is safe to hold.
func (m *Machine) Data() Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

func (m *Machine) CanTransition(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return validTransitions[m.current][to]
}

// History returns the most recent transitions, oldest first.
// limit <= 0 returns the full retained window.
func (m *Machine) History(limit int) []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Change(nil), h...)
}
