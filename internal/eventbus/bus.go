package eventbus

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "pacekeeper/pkg/logx"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish is synchronous: every handler runs in the publisher's
//     goroutine, in subscription order.
//   - A handler failure (panic) is isolated: it is logged and the remaining
//     handlers still run. Nothing propagates to the publisher.
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Handler receives a published event.
type Handler func(e Event)

var ErrDuplicateSubscriber = errors.New("eventbus: duplicate subscriber")

type subscriber struct {
	name string
	fn   Handler
}

// Bus is an explicitly constructed, dependency-injected pub/sub hub.
//
// There is intentionally no package-level singleton: tests wire isolated
// buses, production wires exactly one at startup.
type Bus struct {
	log logx.Logger

	mu      sync.Mutex
	subs    map[string][]subscriber
	history map[string][]Event

	maxHistory int

	// Throttles handler-failure logging so a crashing subscriber cannot
	// flood the sinks while the system keeps publishing.
	errLimit *rate.Limiter
}

const defaultMaxHistory = 100

func New(log logx.Logger) *Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{
		log:        log.With(logx.String("component", "eventbus")),
		subs:       map[string][]subscriber{},
		history:    map[string][]Event{},
		maxHistory: defaultMaxHistory,
		errLimit:   rate.NewLimiter(rate.Limit(1), 5),
	}
}

// Subscribe registers a named handler for an event type.
//
// Identity is (eventType, name): registering the same pair twice returns
// ErrDuplicateSubscriber and leaves the first registration in place.
func (b *Bus) Subscribe(eventType, name string, fn Handler) error {
	if fn == nil {
		return errors.New("eventbus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[eventType] {
		if s.name == name {
			return ErrDuplicateSubscriber
		}
	}
	b.subs[eventType] = append(b.subs[eventType], subscriber{name: name, fn: fn})
	b.log.Debug("subscribed", logx.String("event", eventType), logx.String("subscriber", name))
	return nil
}

// Unsubscribe removes a named handler. Unknown pairs are a no-op.
func (b *Bus) Unsubscribe(eventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.name == name {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			b.log.Debug("unsubscribed", logx.String("event", eventType), logx.String("subscriber", name))
			return
		}
	}
}

// Publish delivers the event to every currently-registered handler for its
// type and appends it to the bounded per-type history.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Snapshot subscribers so handlers may subscribe/unsubscribe without
	// deadlocking against the bus lock.
	b.mu.Lock()
	subs := append([]subscriber(nil), b.subs[e.Type]...)
	h := append(b.history[e.Type], e)
	if len(h) > b.maxHistory {
		h = h[len(h)-b.maxHistory:]
	}
	b.history[e.Type] = h
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(e, s)
	}
}

func (b *Bus) deliver(e Event, s subscriber) {
	defer func() {
		if r := recover(); r != nil {
			if b.errLimit.Allow() {
				b.log.Error("event handler panicked",
					logx.String("event", e.Type),
					logx.String("subscriber", s.name),
					logx.Any("panic", r),
					logx.Stack(logx.StackTrace()))
			}
		}
	}()
	s.fn(e)
}

// History returns a copy of the retained events for one type,
// oldest first. Intended for inspection and tests.
func (b *Bus) History(eventType string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history[eventType]...)
}
