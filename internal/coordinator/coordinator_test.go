package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pacekeeper/internal/brain"
	"pacekeeper/internal/eventbus"
	"pacekeeper/internal/memory"
	"pacekeeper/internal/queue"
	"pacekeeper/internal/state"
	"pacekeeper/internal/storage"
	logx "pacekeeper/pkg/logx"
)

type testEnv struct {
	bus     *eventbus.Bus
	queue   *queue.Queue
	machine *state.Machine
	brain   *brain.Brain
	coord   *Coordinator
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	bus := eventbus.New(logx.Nop())
	store := storage.NewMem()
	q := queue.New(store, bus, logx.Nop())
	mem := memory.New(store, logx.Nop())
	machine := state.NewMachine(bus, logx.Nop())

	// A single active hour that is never "now" keeps a started brain
	// parked in the waiting state during tests.
	cfg := brain.Config{
		Location:        time.Local,
		ActiveHours:     []int{(time.Now().Hour() + 2) % 24},
		SessionsPerHour: 2,
		MinSpacing:      15 * time.Minute,
		CooldownMin:     10 * time.Minute,
		CooldownMax:     30 * time.Minute,
		ErrorBackoff:    30 * time.Second,
		Types: []brain.SessionType{
			{Name: "regular", MinDuration: 5 * time.Minute, MaxDuration: 7 * time.Minute, Probability: 1, MaxItems: 8},
		},
	}
	b := brain.New(cfg, q, mem, machine, bus, logx.Nop())
	return testEnv{
		bus:     bus,
		queue:   q,
		machine: machine,
		brain:   b,
		coord:   New(q, b, machine, bus, logx.Nop()),
	}
}

func TestSubmitClassification(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res := env.coord.Submit(ctx, []string{"p1", "p2", "p3"}, false, "test")
	if len(res.Added) != 3 || len(res.AlreadyQueued) != 0 || len(res.Failed) != 0 {
		t.Fatalf("first submit = %+v", res)
	}

	res = env.coord.Submit(ctx, []string{"p1", "p4", "", "   "}, false, "test")
	if len(res.Added) != 1 || res.Added[0] != "p4" {
		t.Fatalf("added = %v", res.Added)
	}
	if len(res.AlreadyQueued) != 1 || res.AlreadyQueued[0] != "p1" {
		t.Fatalf("already queued = %v", res.AlreadyQueued)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("failed = %v", res.Failed)
	}
}

func TestSubmitNormalizesURLKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res := env.coord.Submit(ctx, []string{"https://example.com/in/alice?trk=feed#top"}, false, "test")
	if len(res.Added) != 1 || res.Added[0] != "https://example.com/in/alice" {
		t.Fatalf("normalized key = %v", res.Added)
	}

	res = env.coord.Submit(ctx, []string{"https://example.com/in/alice?trk=other"}, false, "test")
	if len(res.AlreadyQueued) != 1 {
		t.Fatalf("same URL with different query should dedupe: %+v", res)
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "  p1  ", want: "p1"},
		{in: "https://example.com/x/?a=1", want: "https://example.com/x"},
		{in: "plain text key", want: "plain text key"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := normalizeKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("normalizeKey(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("normalizeKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestSubmitKicksInactiveScheduler(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.brain.Start()
	defer env.brain.Stop()
	if !env.machine.Transition(state.Inactive, "test", nil) {
		// already inactive is fine too
		if env.machine.Current() != state.Inactive {
			t.Fatal("could not park scheduler inactive")
		}
	}

	env.coord.Submit(ctx, []string{"p1"}, false, "test")
	if got := env.machine.Current(); got != state.WaitingForActiveHours {
		t.Fatalf("state after submit = %v, want waiting", got)
	}
}

func TestRegisterExecutorLastWins(t *testing.T) {
	env := newTestEnv(t)

	var calls []string
	env.coord.RegisterExecutor(func(p brain.SessionPlan) brain.SessionStats {
		calls = append(calls, "first")
		return brain.SessionStats{}
	})
	env.coord.RegisterExecutor(func(p brain.SessionPlan) brain.SessionStats {
		calls = append(calls, "second")
		return brain.SessionStats{}
	})

	env.coord.runSession(brain.SessionPlan{ID: "s1"})
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("calls = %v, want only the last registration", calls)
	}
}

func TestRunSessionSerialized(t *testing.T) {
	env := newTestEnv(t)

	var inFlight, maxInFlight int32
	env.coord.RegisterExecutor(func(p brain.SessionPlan) brain.SessionStats {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return brain.SessionStats{ItemsStarted: 1}
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			env.coord.runSession(brain.SessionPlan{ID: "s"})
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("max concurrent executors = %d, want 1", got)
	}
}

func TestRunSessionContainsPanicAndNilExecutor(t *testing.T) {
	env := newTestEnv(t)

	// No executor registered: must not panic and must clear the
	// processing flag.
	env.coord.runSession(brain.SessionPlan{ID: "s1"})

	env.coord.RegisterExecutor(func(p brain.SessionPlan) brain.SessionStats {
		panic("boom")
	})
	env.coord.runSession(brain.SessionPlan{ID: "s2"})

	st := env.coord.Status(context.Background())
	if st.Processing {
		t.Fatal("processing flag stuck after panic")
	}
	if !st.ExecutorRegistered {
		t.Fatal("executor registration lost")
	}
}

func TestRunSessionSurvivesReportingPanic(t *testing.T) {
	env := newTestEnv(t)

	// A nil scheduler makes the completion report panic after the executor
	// ran cleanly; the session goroutine must absorb it.
	c := New(env.queue, nil, env.machine, nil, logx.Nop())
	ran := false
	c.RegisterExecutor(func(p brain.SessionPlan) brain.SessionStats {
		ran = true
		return brain.SessionStats{ItemsCompleted: 1}
	})

	c.runSession(brain.SessionPlan{ID: "s1"})
	if !ran {
		t.Fatal("executor did not run")
	}
	if st := c.Status(context.Background()); st.Processing {
		t.Fatal("processing flag stuck after reporting panic")
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.coord.Submit(ctx, []string{"p1", "p2"}, true, "test")

	st := env.coord.Status(ctx)
	if st.ExecutorRegistered || st.Processing {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.OperatingState != state.Inactive {
		t.Fatalf("operating state = %v", st.OperatingState)
	}
	if st.QueueStats.Pending != 2 {
		t.Fatalf("queue stats = %+v", st.QueueStats)
	}
}
