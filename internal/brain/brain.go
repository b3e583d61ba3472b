// Package brain is the scheduler core: it owns the process state machine and
// runs the control loop that decides when the next work session starts, how
// long it runs, and how much it may do. Actual work execution lives behind
// the coordinator's executor callback; the brain only paces it.
package brain

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pacekeeper/internal/eventbus"
	"pacekeeper/internal/memory"
	"pacekeeper/internal/queue"
	"pacekeeper/internal/state"
	logx "pacekeeper/pkg/logx"
)

const (
	pollInterval    = 1 * time.Second
	maxWaitSleep    = 5 * time.Minute
	maxStartSleep   = 30 * time.Second
	maxCooldownWait = 1 * time.Minute
	safetySleep     = 10 * time.Second
	stopTimeout     = 10 * time.Second
)

// Brain drives the session lifecycle. One instance per process.
type Brain struct {
	log     logx.Logger
	bus     *eventbus.Bus
	queue   *queue.Queue
	memory  *memory.Memory
	machine *state.Machine

	mu      sync.Mutex
	cfg     Config
	plan    *planner
	special specialHours

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	pending *SessionPlan
	active  *ActiveSession
	endCh   chan SessionStats

	seq  int64
	cron *cron.Cron
}

func New(cfg Config, q *queue.Queue, mem *memory.Memory, machine *state.Machine, bus *eventbus.Bus, log logx.Logger) *Brain {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Brain{
		log:     log.With(logx.String("component", "brain")),
		bus:     bus,
		queue:   q,
		memory:  mem,
		machine: machine,
		cfg:     cfg,
		plan:    newPlanner(cfg, rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
	b.special = b.plan.rollSpecialHours(b.now().Format("2006-01-02"))

	if bus != nil {
		_ = bus.Subscribe(eventbus.EventQueueUpdated, "brain", func(e eventbus.Event) { b.Kick() })
		_ = bus.Subscribe(eventbus.EventItemSucceeded, "brain", b.onItemOutcome)
		_ = bus.Subscribe(eventbus.EventItemFailed, "brain", b.onItemOutcome)
	}
	return b
}

func (b *Brain) now() time.Time {
	b.mu.Lock()
	loc := b.cfg.Location
	b.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}
	return time.Now().In(loc)
}

// Start launches the control loop. Starting twice logs a warning and does
// nothing.
func (b *Brain) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		b.log.Warn("start ignored: scheduler already running")
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	reroll := b.cfg.Reroll
	loc := b.cfg.Location
	b.mu.Unlock()

	if b.machine.Current() == state.Inactive {
		b.machine.Transition(state.WaitingForActiveHours, "scheduler started", nil)
	}

	if reroll {
		if loc == nil {
			loc = time.Local
		}
		c := cron.New(cron.WithLocation(loc))
		_, err := c.AddFunc("0 0 * * *", b.rerollSpecialHours)
		if err != nil {
			b.log.Warn("special-hours reroll schedule failed", logx.Err(err))
		} else {
			c.Start()
			b.mu.Lock()
			b.cron = c
			b.mu.Unlock()
		}
	}

	go b.loop()
	b.log.Info("scheduler started")
}

// Stop requests loop termination, waits bounded for it, and forces the state
// machine back to inactive. Stopping while not running logs a warning.
func (b *Brain) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		b.log.Warn("stop ignored: scheduler not running")
		return
	}
	b.running = false
	stopCh, doneCh, c := b.stopCh, b.doneCh, b.cron
	b.cron = nil
	b.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(stopTimeout):
		b.log.Warn("control loop did not exit in time", logx.Duration("timeout", stopTimeout))
	}

	if b.machine.Current() != state.Inactive {
		b.machine.Transition(state.Inactive, "scheduler stopped", nil)
	}
	b.log.Info("scheduler stopped")
}

// Running reports whether the control loop is active.
func (b *Brain) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Kick nudges an inactive scheduler when the queue has pending work. Used by
// the coordinator after submissions and wired to queue-updated events.
func (b *Brain) Kick() {
	if !b.Running() {
		return
	}
	if b.machine.Current() != state.Inactive {
		return
	}
	if b.queue.Stats(context.Background()).Pending == 0 {
		return
	}
	b.machine.Transition(state.WaitingForActiveHours, "work submitted", nil)
}

// Apply swaps the pacing configuration at runtime. The special-hours roll is
// redone when the active-hour set changed.
func (b *Brain) Apply(cfg Config) {
	b.mu.Lock()
	oldHours := fmt.Sprint(b.cfg.ActiveHours)
	b.cfg = cfg
	b.plan.cfg = cfg
	if fmt.Sprint(cfg.ActiveHours) != oldHours {
		b.special = b.plan.rollSpecialHours(b.now0(cfg).Format("2006-01-02"))
	}
	b.mu.Unlock()
	b.log.Info("pacing config applied",
		logx.Int("active_hours", len(cfg.ActiveHours)),
		logx.Int("sessions_per_hour", cfg.SessionsPerHour),
		logx.Int("session_types", len(cfg.Types)))
}

func (b *Brain) now0(cfg Config) time.Time {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return time.Now().In(loc)
}

func (b *Brain) rerollSpecialHours() {
	day := b.now().Format("2006-01-02")
	b.mu.Lock()
	b.special = b.plan.rollSpecialHours(day)
	sp := b.special
	b.mu.Unlock()
	b.log.Info("special hours rerolled", logx.String("day", day), logx.Any("targets", sp.Targets))
}

// specialFor returns today's special-hour targets, rolling them lazily when
// the day changed (covers process restarts and reroll disabled at midnight).
func (b *Brain) specialFor(now time.Time) specialHours {
	day := now.Format("2006-01-02")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.special.Day != day {
		b.special = b.plan.rollSpecialHours(day)
	}
	return b.special
}

// SessionEnded reports executor completion for the given session id. Stats
// for an unknown or stale id are logged and dropped.
func (b *Brain) SessionEnded(id string, stats SessionStats) {
	b.mu.Lock()
	var ch chan SessionStats
	if b.active != nil && b.active.Plan.ID == id {
		ch = b.endCh
	}
	b.mu.Unlock()

	if ch == nil {
		b.log.Warn("session-ended for unknown session", logx.String("session_id", id))
		return
	}
	select {
	case ch <- stats:
	default:
		b.log.Warn("duplicate session-ended dropped", logx.String("session_id", id))
	}
}

func (b *Brain) onItemOutcome(e eventbus.Event) {
	out, ok := e.Data.(queue.ItemOutcome)
	if !ok {
		return
	}
	b.mu.Lock()
	if b.active != nil {
		switch out.Status {
		case queue.StatusCompleted:
			b.active.ItemsCompleted++
		case queue.StatusFailed:
			b.active.ItemsFailed++
		}
	}
	b.mu.Unlock()
	b.memory.RecordItemOutcome(context.Background(), out.Key, string(out.Status), out.Metadata)
}

// Status returns a diagnostic snapshot.
func (b *Brain) Status(ctx context.Context) Status {
	qs := b.queue.Stats(ctx)
	b.mu.Lock()
	st := Status{
		Running:        b.running,
		QueueStats:     qs,
		SpecialHours:   b.special.Targets,
		SpecialHoursAt: b.special.Day,
	}
	if b.active != nil {
		cp := *b.active
		st.ActiveSession = &cp
	}
	if b.pending != nil {
		cp := *b.pending
		st.PendingPlan = &cp
	}
	b.mu.Unlock()
	st.State = b.machine.Current()
	st.StateData = b.machine.Data()
	return st
}

// ---- control loop ----

func (b *Brain) loop() {
	b.mu.Lock()
	stop, done := b.stopCh, b.doneCh
	b.mu.Unlock()
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		b.step()
		if !b.sleep(pollInterval) {
			return
		}
	}
}

// step dispatches on the current operating state. A panic in any handler
// lands in the error state with a diagnostic payload and a safety pause, so
// the loop never dies.
func (b *Brain) step() {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Sprintf("%v", r)
			stack := logx.StackTrace()
			b.log.Error("state handler panicked", logx.String("panic", err), logx.Stack(stack))
			b.machine.Transition(state.Error, "handler panic", state.ErrorPayload{Err: err, Stack: stack})
			b.publishError(err)
			b.sleep(safetySleep)
		}
	}()

	switch b.machine.Current() {
	case state.Inactive:
		// Idle until Kick() or Stop().
	case state.WaitingForActiveHours:
		b.handleWaiting()
	case state.PlanningNextSession:
		b.handlePlanning()
	case state.SessionStarting:
		b.handleStarting()
	case state.SessionRunning:
		b.handleRunning()
	case state.SessionEnding:
		// Transient; handleRunning normally walks straight through it.
		b.machine.Transition(state.CooldownPeriod, "session wrap-up", nil)
	case state.CooldownPeriod:
		b.handleCooldown()
	case state.Error:
		b.handleError()
	}
}

func (b *Brain) handleWaiting() {
	now := b.now()
	b.mu.Lock()
	active := b.plan.inActiveHours(now)
	var next time.Time
	if !active {
		next = b.plan.nextActiveHourStart(now)
	}
	b.mu.Unlock()

	if active {
		b.machine.Transition(state.PlanningNextSession, "active hours reached", nil)
		return
	}
	wait := time.Until(next)
	if wait > maxWaitSleep {
		wait = maxWaitSleep
	}
	b.log.Debug("outside active hours", logx.Time("next_active", next), logx.Duration("sleep", wait))
	b.sleep(wait)
}

func (b *Brain) handlePlanning() {
	ctx := context.Background()
	now := b.now()

	if b.queue.Stats(ctx).Pending == 0 {
		b.machine.Transition(state.WaitingForActiveHours, "queue empty", nil)
		return
	}

	sp := b.specialFor(now)
	done := b.memory.SessionsInHour(ctx, now)
	lastEnd, hasLast := b.memory.LastSessionEnd(ctx, now)

	b.mu.Lock()
	start := b.plan.nextSessionStart(now, sp, done, lastEnd, hasLast)
	st := b.plan.pickType()
	dur := b.plan.sampleDuration(st)
	b.seq++
	id := fmt.Sprintf("session-%s-%03d", now.Format("20060102T150405"), b.seq)
	b.mu.Unlock()

	items := b.queue.Next(ctx, st.MaxItems)
	if len(items) == 0 {
		b.machine.Transition(state.WaitingForActiveHours, "no pullable items", nil)
		return
	}

	plan := SessionPlan{
		ID:              id,
		Type:            st.Name,
		PlannedStart:    start,
		PlannedDuration: dur,
		MaxItems:        st.MaxItems,
		Items:           items,
	}

	b.mu.Lock()
	b.pending = &plan
	b.mu.Unlock()

	b.log.Info("session planned",
		logx.String("session_id", plan.ID),
		logx.String("type", plan.Type),
		logx.Time("start", plan.PlannedStart),
		logx.Duration("duration", plan.PlannedDuration),
		logx.Int("items", len(plan.Items)))

	b.publish(eventbus.EventSessionPlanned, plan)
	b.machine.Transition(state.SessionStarting, "session planned", state.PlanPayload{
		SessionID:    plan.ID,
		Type:         plan.Type,
		PlannedStart: plan.PlannedStart,
		Duration:     plan.PlannedDuration,
		MaxItems:     plan.MaxItems,
	})
}

func (b *Brain) handleStarting() {
	b.mu.Lock()
	plan := b.pending
	b.mu.Unlock()

	if plan == nil {
		b.machine.Transition(state.PlanningNextSession, "pending plan lost", nil)
		return
	}

	now := b.now()
	if wait := plan.PlannedStart.Sub(now); wait > 0 {
		if wait > maxStartSleep {
			wait = maxStartSleep
		}
		b.sleep(wait)
		return
	}

	active := &ActiveSession{Plan: *plan, StartedAt: now, ItemsStarted: len(plan.Items)}
	b.mu.Lock()
	b.pending = nil
	b.active = active
	b.endCh = make(chan SessionStats, 1)
	b.mu.Unlock()

	b.log.Info("session started", logx.String("session_id", plan.ID), logx.String("type", plan.Type))
	b.publish(eventbus.EventSessionStarted, StartedSession{Plan: *plan, StartedAt: now})
	b.machine.Transition(state.SessionRunning, "session started", state.SessionPayload{
		SessionID: plan.ID,
		StartedAt: now,
	})
}

func (b *Brain) handleRunning() {
	b.mu.Lock()
	ch := b.endCh
	b.mu.Unlock()
	if ch == nil {
		b.machine.Transition(state.Error, "running without active session",
			state.ErrorPayload{Err: "running without active session"})
		return
	}

	select {
	case stats := <-ch:
		b.finishSession(stats)
	case <-b.stopChan():
	case <-time.After(pollInterval):
		// Still executing; poll again.
	}
}

func (b *Brain) finishSession(stats SessionStats) {
	now := b.now()

	b.mu.Lock()
	active := b.active
	b.active = nil
	b.endCh = nil
	cooldown := b.plan.sampleCooldown()
	b.mu.Unlock()
	if active == nil {
		return
	}

	summary := memory.SessionSummary{
		ID:              active.Plan.ID,
		Type:            active.Plan.Type,
		StartTime:       active.StartedAt,
		EndTime:         now,
		PlannedDuration: active.Plan.PlannedDuration,
		ActualDuration:  now.Sub(active.StartedAt),
		ItemsStarted:    stats.ItemsStarted,
		ItemsCompleted:  stats.ItemsCompleted,
		ItemsFailed:     stats.ItemsFailed,
		Error:           stats.Error,
		Extra:           stats.Extra,
	}
	if summary.ItemsStarted == 0 {
		summary.ItemsStarted = active.ItemsStarted
	}
	b.memory.RecordSession(context.Background(), summary)

	b.log.Info("session ended",
		logx.String("session_id", summary.ID),
		logx.Duration("actual_duration", summary.ActualDuration),
		logx.Int("completed", summary.ItemsCompleted),
		logx.Int("failed", summary.ItemsFailed))

	b.machine.Transition(state.SessionEnding, "executor reported completion", nil)
	b.publish(eventbus.EventSessionEnded, summary)

	b.machine.Transition(state.CooldownPeriod, "cooldown", state.CooldownPayload{
		SessionID:   summary.ID,
		Cooldown:    cooldown,
		CooldownEnd: now.Add(cooldown),
	})
}

func (b *Brain) handleCooldown() {
	now := b.now()
	b.mu.Lock()
	active := b.plan.inActiveHours(now)
	b.mu.Unlock()

	if !active {
		b.machine.Transition(state.WaitingForActiveHours, "active hours over", nil)
		return
	}

	cd, ok := b.machine.Data().(state.CooldownPayload)
	if !ok || !now.Before(cd.CooldownEnd) {
		b.machine.Transition(state.PlanningNextSession, "cooldown elapsed", nil)
		return
	}
	wait := cd.CooldownEnd.Sub(now)
	if wait > maxCooldownWait {
		wait = maxCooldownWait
	}
	b.sleep(wait)
}

func (b *Brain) handleError() {
	b.mu.Lock()
	backoff := b.cfg.ErrorBackoff
	b.mu.Unlock()
	if !b.sleep(backoff) {
		return
	}
	b.machine.Transition(state.WaitingForActiveHours, "error backoff elapsed", nil)
}

// stopChan snapshots the current stop channel; the field is replaced on
// every Start, so readers outside the mutex must not touch it directly.
func (b *Brain) stopChan() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopCh
}

// sleep waits d, returning false when the loop should stop instead.
func (b *Brain) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-b.stopChan():
		return false
	case <-t.C:
		return true
	}
}

func (b *Brain) publish(eventType string, data any) {
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: eventType, Data: data})
	}
}

func (b *Brain) publishError(msg string) {
	b.publish(eventbus.EventError, map[string]any{"source": "brain", "error": msg})
}
