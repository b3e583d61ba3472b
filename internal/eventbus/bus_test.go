package eventbus

import (
	"testing"

	logx "pacekeeper/pkg/logx"
)

func TestSubscribeDuplicateRejected(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	if err := b.Subscribe("x", "sub", func(Event) {}); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := b.Subscribe("x", "sub", func(Event) {}); err != ErrDuplicateSubscriber {
		t.Fatalf("expected ErrDuplicateSubscriber, got %v", err)
	}
	// Same name on a different type is a distinct identity.
	if err := b.Subscribe("y", "sub", func(Event) {}); err != nil {
		t.Fatalf("subscribe other type: %v", err)
	}
}

func TestPublishOrderAndIsolation(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	var got []string
	_ = b.Subscribe("x", "first", func(Event) { got = append(got, "first") })
	_ = b.Subscribe("x", "boom", func(Event) { panic("boom") })
	_ = b.Subscribe("x", "last", func(Event) { got = append(got, "last") })

	b.Publish(Event{Type: "x"}) // must not panic the publisher

	if len(got) != 2 || got[0] != "first" || got[1] != "last" {
		t.Fatalf("delivery order wrong: %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	n := 0
	_ = b.Subscribe("x", "sub", func(Event) { n++ })
	b.Publish(Event{Type: "x"})
	b.Unsubscribe("x", "sub")
	b.Publish(Event{Type: "x"})

	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	for i := 0; i < defaultMaxHistory+25; i++ {
		b.Publish(Event{Type: "x", Data: i})
	}
	h := b.History("x")
	if len(h) != defaultMaxHistory {
		t.Fatalf("history len = %d, want %d", len(h), defaultMaxHistory)
	}
	if h[len(h)-1].Data != defaultMaxHistory+24 {
		t.Fatalf("history should retain most recent events, last = %v", h[len(h)-1].Data)
	}
	if len(b.History("unknown")) != 0 {
		t.Fatal("unknown type should have empty history")
	}
}

func TestHandlerCanSubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	_ = b.Subscribe("x", "outer", func(Event) {
		_ = b.Subscribe("x", "inner", func(Event) {})
	})
	b.Publish(Event{Type: "x"}) // must not deadlock
}
