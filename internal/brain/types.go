package brain

import (
	"time"

	"pacekeeper/internal/config"
	"pacekeeper/internal/queue"
	"pacekeeper/internal/state"
)

// SessionType is one named session profile after duration parsing.
type SessionType struct {
	Name        string
	MinDuration time.Duration
	MaxDuration time.Duration
	Probability float64
	MaxItems    int
}

// Config is the parsed pacing configuration the scheduler runs on.
type Config struct {
	Location        *time.Location
	ActiveHours     []int // ascending, 0..23
	SessionsPerHour int
	MinSpacing      time.Duration
	CooldownMin     time.Duration
	CooldownMax     time.Duration
	ErrorBackoff    time.Duration
	Reroll          bool
	Types           []SessionType
}

// FromScheduler parses a SchedulerConfig into a runtime Config, filling
// unset fields from the built-in defaults. The input is assumed to have
// passed Validate().
func FromScheduler(sc config.SchedulerConfig) (Config, error) {
	def := config.Default().Scheduler

	loc := time.Local
	if sc.Timezone != "" {
		l, err := time.LoadLocation(sc.Timezone)
		if err != nil {
			return Config{}, err
		}
		loc = l
	}

	spacing, err := config.ParseDurationOrDefault("scheduler.minimum_session_spacing", sc.MinimumSessionSpacing, mustDur(def.MinimumSessionSpacing))
	if err != nil {
		return Config{}, err
	}
	cmin, err := config.ParseDurationOrDefault("scheduler.cooldown_min", sc.CooldownMin, mustDur(def.CooldownMin))
	if err != nil {
		return Config{}, err
	}
	cmax, err := config.ParseDurationOrDefault("scheduler.cooldown_max", sc.CooldownMax, mustDur(def.CooldownMax))
	if err != nil {
		return Config{}, err
	}
	backoff, err := config.ParseDurationOrDefault("scheduler.error_backoff", sc.ErrorBackoff, mustDur(def.ErrorBackoff))
	if err != nil {
		return Config{}, err
	}

	perHour := sc.SessionsPerHour
	if perHour == 0 {
		perHour = def.SessionsPerHour
	}

	reroll := true
	if sc.RerollSpecialHours != nil {
		reroll = *sc.RerollSpecialHours
	}

	raw := sc.SessionTypes
	if len(raw) == 0 {
		raw = def.SessionTypes
	}
	types := make([]SessionType, 0, len(raw))
	for _, st := range raw {
		minD, err := config.ParseDurationField("scheduler.session_types.min_duration", st.MinDuration)
		if err != nil {
			return Config{}, err
		}
		maxD, err := config.ParseDurationField("scheduler.session_types.max_duration", st.MaxDuration)
		if err != nil {
			return Config{}, err
		}
		types = append(types, SessionType{
			Name:        st.Name,
			MinDuration: minD,
			MaxDuration: maxD,
			Probability: st.Probability,
			MaxItems:    st.MaxItems,
		})
	}

	return Config{
		Location:        loc,
		ActiveHours:     sc.ActiveHoursSorted(),
		SessionsPerHour: perHour,
		MinSpacing:      spacing,
		CooldownMin:     cmin,
		CooldownMax:     cmax,
		ErrorBackoff:    backoff,
		Reroll:          reroll,
		Types:           types,
	}, nil
}

func mustDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic("bad built-in duration: " + s)
	}
	return d
}

// SessionPlan describes one scheduled session before it starts.
type SessionPlan struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	PlannedStart    time.Time        `json:"planned_start_time"`
	PlannedDuration time.Duration    `json:"planned_duration"`
	MaxItems        int              `json:"max_items"`
	Items           []queue.WorkItem `json:"items"`
}

// ActiveSession is a running session plus its live counters. Counters follow
// item events; the executor's final stats win when the session ends.
type ActiveSession struct {
	Plan           SessionPlan `json:"plan"`
	StartedAt      time.Time   `json:"started_at"`
	ItemsStarted   int         `json:"items_started"`
	ItemsCompleted int         `json:"items_completed"`
	ItemsFailed    int         `json:"items_failed"`
}

// SessionStats is what the executor reports back through SessionEnded.
// Extra carries executor-specific fields through to the session summary
// untouched.
type SessionStats struct {
	ItemsStarted   int            `json:"items_started"`
	ItemsCompleted int            `json:"items_completed"`
	ItemsFailed    int            `json:"items_failed"`
	Error          string         `json:"error,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// StartedSession is the payload of session-started events.
type StartedSession struct {
	Plan      SessionPlan `json:"plan"`
	StartedAt time.Time   `json:"started_at"`
}

// Status is a point-in-time diagnostic snapshot.
type Status struct {
	Running        bool           `json:"running"`
	State          state.State    `json:"state"`
	StateData      state.Payload  `json:"state_data,omitempty"`
	ActiveSession  *ActiveSession `json:"active_session,omitempty"`
	PendingPlan    *SessionPlan   `json:"pending_plan,omitempty"`
	QueueStats     queue.Stats    `json:"queue_stats"`
	SpecialHours   map[int]int    `json:"special_hours"`
	SpecialHoursAt string         `json:"special_hours_day"`
}
