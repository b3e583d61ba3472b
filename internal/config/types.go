package config

import (
	"fmt"
	"math"
	"sort"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/pacekeeper" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls session pacing.
//
// All durations are Go duration strings (e.g. "30s", "15m").
// Omitted fields fall back to the defaults in Default().
type SchedulerConfig struct {
	// Timezone is an IANA TZ name; empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`

	// ActiveHours are the hours-of-day (0..23) during which sessions may be
	// scheduled.
	ActiveHours []int `json:"active_hours,omitempty"`

	// SessionsPerHour is the default per-hour session target for hours that
	// are not special-cased on a given day.
	SessionsPerHour int `json:"sessions_per_hour,omitempty"`

	// MinimumSessionSpacing is the shortest allowed gap between one
	// session's end and the next session's start.
	MinimumSessionSpacing string `json:"minimum_session_spacing,omitempty"`

	CooldownMin  string `json:"cooldown_min,omitempty"`
	CooldownMax  string `json:"cooldown_max,omitempty"`
	ErrorBackoff string `json:"error_backoff,omitempty"`

	// RerollSpecialHours recomputes the per-day special hours at local
	// midnight. Pointer so "omitted" defaults to true.
	RerollSpecialHours *bool `json:"reroll_special_hours,omitempty"`

	SessionTypes []SessionTypeConfig `json:"session_types,omitempty"`
}

// SessionTypeConfig is one named session profile.
type SessionTypeConfig struct {
	Name        string  `json:"name"`
	MinDuration string  `json:"min_duration"`
	MaxDuration string  `json:"max_duration"`
	Probability float64 `json:"probability"`
	MaxItems    int     `json:"max_items"`
}

// Default returns the built-in configuration: active 10:00-20:59 local,
// two sessions per hour, 15 minute spacing, the four stock session types.
func Default() *Config {
	hours := make([]int, 0, 11)
	for h := 10; h <= 20; h++ {
		hours = append(hours, h)
	}
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			ActiveHours:           hours,
			SessionsPerHour:       2,
			MinimumSessionSpacing: "15m",
			CooldownMin:           "10m",
			CooldownMax:           "30m",
			ErrorBackoff:          "30s",
			SessionTypes: []SessionTypeConfig{
				{Name: "regular", MinDuration: "5m", MaxDuration: "7m", Probability: 0.6, MaxItems: 8},
				{Name: "short", MinDuration: "2m", MaxDuration: "6m", Probability: 0.2, MaxItems: 5},
				{Name: "long", MinDuration: "7m", MaxDuration: "13m", Probability: 0.1, MaxItems: 12},
				{Name: "quick", MinDuration: "2m", MaxDuration: "4m", Probability: 0.1, MaxItems: 3},
			},
		},
	}
}

// Validate checks invariants that the strict decoder cannot express.
func (c *Config) Validate() error {
	s := c.Scheduler

	seen := map[int]bool{}
	for _, h := range s.ActiveHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("scheduler.active_hours: hour %d out of range 0..23", h)
		}
		if seen[h] {
			return fmt.Errorf("scheduler.active_hours: hour %d listed twice", h)
		}
		seen[h] = true
	}
	if s.SessionsPerHour < 0 {
		return fmt.Errorf("scheduler.sessions_per_hour must be >= 0")
	}

	if _, err := ParseDurationField("scheduler.minimum_session_spacing", s.MinimumSessionSpacing); err != nil {
		return err
	}
	cmin, err := ParseDurationField("scheduler.cooldown_min", s.CooldownMin)
	if err != nil {
		return err
	}
	cmax, err := ParseDurationField("scheduler.cooldown_max", s.CooldownMax)
	if err != nil {
		return err
	}
	if cmin > 0 && cmax > 0 && cmin > cmax {
		return fmt.Errorf("scheduler.cooldown_min must not exceed cooldown_max")
	}
	if _, err := ParseDurationField("scheduler.error_backoff", s.ErrorBackoff); err != nil {
		return err
	}

	if len(s.SessionTypes) > 0 {
		sum := 0.0
		for i, st := range s.SessionTypes {
			path := fmt.Sprintf("scheduler.session_types[%d]", i)
			if st.Name == "" {
				return fmt.Errorf("%s: name is required", path)
			}
			minD, err := ParseDurationField(path+".min_duration", st.MinDuration)
			if err != nil {
				return err
			}
			maxD, err := ParseDurationField(path+".max_duration", st.MaxDuration)
			if err != nil {
				return err
			}
			if minD <= 0 || maxD <= 0 || minD > maxD {
				return fmt.Errorf("%s: duration range [%s, %s] is invalid", path, st.MinDuration, st.MaxDuration)
			}
			if st.Probability <= 0 {
				return fmt.Errorf("%s: probability must be > 0", path)
			}
			if st.MaxItems <= 0 {
				return fmt.Errorf("%s: max_items must be > 0", path)
			}
			sum += st.Probability
		}
		if math.Abs(sum-1.0) > 0.05 {
			return fmt.Errorf("scheduler.session_types: probabilities sum to %.2f, want ~1.0", sum)
		}
	}
	return nil
}

// ActiveHoursSorted returns the configured active hours in ascending order
// (or the defaults when unset).
func (s SchedulerConfig) ActiveHoursSorted() []int {
	hours := s.ActiveHours
	if len(hours) == 0 {
		hours = Default().Scheduler.ActiveHours
	}
	out := append([]int(nil), hours...)
	sort.Ints(out)
	return out
}
