package brain

import (
	"math/rand"
	"time"
)

// Scheduling jitter windows. Start offsets into a fresh hour land inside its
// first minutes; immediate starts get a short human-looking delay.
const (
	hourOffsetMin = 1 * time.Minute
	hourOffsetMax = 15 * time.Minute
	immediateMin  = 30 * time.Second
	immediateMax  = 5 * time.Minute
)

// specialHours is one day's randomized per-hour session targets. One active
// hour allows a burst of 3 sessions and two allow only 1, so day-to-day
// rhythm varies; every other active hour uses the default target.
type specialHours struct {
	Day     string      // "2006-01-02" in the scheduler's location
	Targets map[int]int // hour -> sessions allowed
}

// planner holds the pure scheduling math. It is not goroutine-safe; the
// owning Brain serializes access.
type planner struct {
	cfg Config
	rng *rand.Rand
}

func newPlanner(cfg Config, rng *rand.Rand) *planner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &planner{cfg: cfg, rng: rng}
}

func (p *planner) rollSpecialHours(day string) specialHours {
	sp := specialHours{Day: day, Targets: map[int]int{}}
	hours := p.cfg.ActiveHours
	if len(hours) == 0 {
		return sp
	}
	perm := p.rng.Perm(len(hours))
	sp.Targets[hours[perm[0]]] = 3
	for i := 1; i < len(perm) && i <= 2; i++ {
		sp.Targets[hours[perm[i]]] = 1
	}
	return sp
}

// targetFor returns how many sessions the given hour allows today.
func (p *planner) targetFor(sp specialHours, hour int) int {
	if n, ok := sp.Targets[hour]; ok {
		return n
	}
	return p.cfg.SessionsPerHour
}

func (p *planner) inActiveHours(t time.Time) bool {
	h := t.Hour()
	for _, ah := range p.cfg.ActiveHours {
		if ah == h {
			return true
		}
	}
	return false
}

// nextActiveHourStart returns the top of the next active hour strictly after
// t's hour (today, or the earliest active hour tomorrow).
func (p *planner) nextActiveHourStart(t time.Time) time.Time {
	y, m, d := t.Date()
	for _, h := range p.cfg.ActiveHours {
		if h > t.Hour() {
			return time.Date(y, m, d, h, 0, 0, 0, t.Location())
		}
	}
	first := p.cfg.ActiveHours[0]
	return time.Date(y, m, d, first, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

// nextSessionStart computes the earliest legal start for the next session.
//
// If the current hour's target is already met, the session moves to the next
// active hour plus a small random offset. Otherwise it starts shortly after
// now, but never sooner than the last session's end plus the minimum spacing.
func (p *planner) nextSessionStart(now time.Time, sp specialHours, doneThisHour int, lastEnd time.Time, hasLast bool) time.Time {
	if doneThisHour >= p.targetFor(sp, now.Hour()) {
		return p.nextActiveHourStart(now).Add(p.randDuration(hourOffsetMin, hourOffsetMax))
	}
	start := now.Add(p.randDuration(immediateMin, immediateMax))
	if hasLast {
		if earliest := lastEnd.Add(p.cfg.MinSpacing); earliest.After(start) {
			start = earliest
		}
	}
	return start
}

// pickType draws a session type by cumulative probability.
func (p *planner) pickType() SessionType {
	if len(p.cfg.Types) == 0 {
		return SessionType{Name: "regular", MinDuration: 5 * time.Minute, MaxDuration: 7 * time.Minute, Probability: 1, MaxItems: 8}
	}
	return p.typeForDraw(p.rng.Float64())
}

// typeForDraw selects the first type whose cumulative probability meets or
// exceeds the draw. Rounding can leave the draw past the final sum; the
// first type is the fallback.
func (p *planner) typeForDraw(draw float64) SessionType {
	sum := 0.0
	for _, st := range p.cfg.Types {
		sum += st.Probability
		if draw <= sum {
			return st
		}
	}
	return p.cfg.Types[0]
}

func (p *planner) sampleDuration(st SessionType) time.Duration {
	return p.randDuration(st.MinDuration, st.MaxDuration)
}

func (p *planner) sampleCooldown() time.Duration {
	return p.randDuration(p.cfg.CooldownMin, p.cfg.CooldownMax)
}

func (p *planner) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}
