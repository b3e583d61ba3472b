package state

import (
	"testing"
	"time"

	"pacekeeper/internal/eventbus"
	logx "pacekeeper/pkg/logx"
)

func TestTransitionLegality(t *testing.T) {
	t.Parallel()
	m := NewMachine(nil, logx.Nop())

	if m.Current() != Inactive {
		t.Fatalf("initial state = %s, want %s", m.Current(), Inactive)
	}
	// Not adjacent from Inactive.
	for _, to := range []State{PlanningNextSession, SessionStarting, SessionRunning, SessionEnding, CooldownPeriod} {
		if m.Transition(to, "nope", nil) {
			t.Fatalf("transition inactive -> %s should fail", to)
		}
		if m.Current() != Inactive {
			t.Fatalf("failed transition mutated state to %s", m.Current())
		}
	}

	if !m.Transition(WaitingForActiveHours, "activate", nil) {
		t.Fatal("inactive -> waiting should succeed")
	}
	if !m.Transition(PlanningNextSession, "plan", nil) {
		t.Fatal("waiting -> planning should succeed")
	}
}

func TestErrorReachableFromEveryState(t *testing.T) {
	t.Parallel()
	for from := range validTransitions {
		if from == Error {
			continue
		}
		if !validTransitions[from][Error] {
			t.Fatalf("error not reachable from %s", from)
		}
	}
	// Error recovers only into its recovery set.
	want := map[State]bool{Inactive: true, WaitingForActiveHours: true, PlanningNextSession: true}
	for to, ok := range validTransitions[Error] {
		if ok && !want[to] {
			t.Fatalf("error must not transition to %s", to)
		}
	}
}

func TestDataReplacedWholesale(t *testing.T) {
	t.Parallel()
	m := NewMachine(nil, logx.Nop())
	m.Transition(WaitingForActiveHours, "activate", nil)
	m.Transition(PlanningNextSession, "plan", nil)

	plan := PlanPayload{SessionID: "s1", Type: "regular", PlannedStart: time.Now(), Duration: 5 * time.Minute, MaxItems: 8}
	m.Transition(SessionStarting, "planned", plan)
	if got, ok := m.Data().(PlanPayload); !ok || got.SessionID != "s1" {
		t.Fatalf("expected PlanPayload s1, got %#v", m.Data())
	}

	m.Transition(SessionRunning, "started", SessionPayload{SessionID: "s1", StartedAt: time.Now()})
	if _, ok := m.Data().(PlanPayload); ok {
		t.Fatal("old payload survived a transition; data must be replaced wholesale")
	}
	if got, ok := m.Data().(SessionPayload); !ok || got.SessionID != "s1" {
		t.Fatalf("expected SessionPayload s1, got %#v", m.Data())
	}
}

func TestTransitionPublishesStateChanged(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(logx.Nop())
	m := NewMachine(bus, logx.Nop())

	var got []Change
	_ = bus.Subscribe(eventbus.EventStateChanged, "test", func(e eventbus.Event) {
		got = append(got, e.Data.(Change))
	})

	m.Transition(WaitingForActiveHours, "activate", nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 state-changed event, got %d", len(got))
	}
	if got[0].OldState != Inactive || got[0].NewState != WaitingForActiveHours || got[0].Reason != "activate" {
		t.Fatalf("unexpected change payload: %+v", got[0])
	}

	// A rejected transition publishes nothing.
	m.Transition(CooldownPeriod, "nope", nil)
	if len(got) != 1 {
		t.Fatalf("rejected transition must not publish, got %d events", len(got))
	}
}

func TestHistoryRing(t *testing.T) {
	t.Parallel()
	m := NewMachine(nil, logx.Nop())
	m.Transition(WaitingForActiveHours, "a", nil)
	for i := 0; i < historyCap; i++ {
		// Bounce between two legal states to fill the ring.
		m.Transition(PlanningNextSession, "b", nil)
		m.Transition(WaitingForActiveHours, "c", nil)
	}
	h := m.History(0)
	if len(h) != historyCap {
		t.Fatalf("history len = %d, want %d", len(h), historyCap)
	}
	if got := m.History(2); len(got) != 2 {
		t.Fatalf("History(2) len = %d", len(got))
	}
	last := h[len(h)-1]
	if last.NewState != WaitingForActiveHours {
		t.Fatalf("last history entry = %+v", last)
	}
}
