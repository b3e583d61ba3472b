// Package coordinator bridges work submission and session execution. It owns
// the single executor callback and guarantees at most one session executes at
// a time, reporting every outcome back to the scheduler so the state machine
// can never be left stuck mid-session.
package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"pacekeeper/internal/brain"
	"pacekeeper/internal/eventbus"
	"pacekeeper/internal/queue"
	"pacekeeper/internal/state"
	logx "pacekeeper/pkg/logx"
)

// Executor performs the actual work of one session and returns its stats.
// Supplied by the execution layer; the coordinator treats it as opaque.
type Executor func(plan brain.SessionPlan) brain.SessionStats

// SubmitResult classifies each submitted key.
type SubmitResult struct {
	Added         []string `json:"added"`
	AlreadyQueued []string `json:"already_queued"`
	Failed        []string `json:"failed"`
}

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	ExecutorRegistered bool        `json:"executor_registered"`
	Processing         bool        `json:"processing"`
	OperatingState     state.State `json:"operating_state"`
	QueueStats         queue.Stats `json:"queue_stats"`
}

type Coordinator struct {
	log     logx.Logger
	queue   *queue.Queue
	brain   *brain.Brain
	machine *state.Machine

	mu       sync.Mutex
	executor Executor

	// sessionMu serializes session execution even if scheduling logic ever
	// misfires and starts two sessions.
	sessionMu  sync.Mutex
	processing bool
}

func New(q *queue.Queue, b *brain.Brain, machine *state.Machine, bus *eventbus.Bus, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{
		log:     log.With(logx.String("component", "coordinator")),
		queue:   q,
		brain:   b,
		machine: machine,
	}
	if bus != nil {
		_ = bus.Subscribe(eventbus.EventSessionStarted, "coordinator", c.onSessionStarted)
	}
	return c
}

// RegisterExecutor installs the session executor. Only one is held; a later
// registration replaces the earlier one.
func (c *Coordinator) RegisterExecutor(fn Executor) {
	c.mu.Lock()
	replaced := c.executor != nil
	c.executor = fn
	c.mu.Unlock()
	if replaced {
		c.log.Warn("executor replaced")
	} else {
		c.log.Info("executor registered")
	}
}

// Submit normalizes and enqueues keys, classifying each as added, already
// queued, or failed. If the scheduler is inactive and anything was newly
// added, it is nudged awake.
func (c *Coordinator) Submit(ctx context.Context, keys []string, urgent bool, initiator string) SubmitResult {
	var res SubmitResult
	wasInactive := c.machine.Current() == state.Inactive

	for _, raw := range keys {
		key, err := normalizeKey(raw)
		if err != nil {
			c.log.Warn("submission rejected", logx.String("key", raw), logx.Err(err))
			res.Failed = append(res.Failed, raw)
			continue
		}
		before := c.queue.Stats(ctx).Total
		c.queue.Add(ctx, key, urgent, initiator)
		if c.queue.Stats(ctx).Total > before {
			res.Added = append(res.Added, key)
		} else {
			res.AlreadyQueued = append(res.AlreadyQueued, key)
		}
	}

	c.log.Info("submission processed",
		logx.String("initiator", initiator),
		logx.Bool("urgent", urgent),
		logx.Int("added", len(res.Added)),
		logx.Int("already_queued", len(res.AlreadyQueued)),
		logx.Int("failed", len(res.Failed)))

	if wasInactive && len(res.Added) > 0 {
		c.brain.Kick()
	}
	return res
}

// normalizeKey trims whitespace and, for URL-shaped keys, drops query and
// fragment so equivalent links deduplicate to one work item.
func normalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	if u, err := url.Parse(key); err == nil && u.Scheme != "" && u.Host != "" {
		u.RawQuery = ""
		u.Fragment = ""
		key = strings.TrimRight(u.String(), "/")
	}
	return key, nil
}

func (c *Coordinator) onSessionStarted(e eventbus.Event) {
	started, ok := e.Data.(brain.StartedSession)
	if !ok {
		c.log.Warn("session-started event with unexpected payload", logx.Any("data", e.Data))
		return
	}
	go c.runSession(started.Plan)
}

// runSession invokes the executor for one session and always reports the
// outcome back to the scheduler, even on panic. The outer recover keeps a
// panic anywhere in the reporting path from killing the process.
func (c *Coordinator) runSession(plan brain.SessionPlan) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("session goroutine panicked",
				logx.String("session_id", plan.ID),
				logx.String("panic", fmt.Sprintf("%v", r)),
				logx.Stack(logx.StackTrace()))
		}
	}()

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.mu.Lock()
	c.processing = true
	exec := c.executor
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	var stats brain.SessionStats
	func() {
		defer func() {
			if r := recover(); r != nil {
				stats.Error = fmt.Sprintf("executor panic: %v", r)
				c.log.Error("executor panicked",
					logx.String("session_id", plan.ID),
					logx.String("panic", fmt.Sprintf("%v", r)),
					logx.Stack(logx.StackTrace()))
			}
		}()
		if exec == nil {
			stats.Error = "no executor registered"
			c.log.Warn("session started with no executor", logx.String("session_id", plan.ID))
			return
		}
		stats = exec(plan)
	}()

	c.brain.SessionEnded(plan.ID, stats)
}

// Status returns a diagnostic snapshot.
func (c *Coordinator) Status(ctx context.Context) Status {
	c.mu.Lock()
	registered := c.executor != nil
	processing := c.processing
	c.mu.Unlock()
	return Status{
		ExecutorRegistered: registered,
		Processing:         processing,
		OperatingState:     c.machine.Current(),
		QueueStats:         c.queue.Stats(ctx),
	}
}
