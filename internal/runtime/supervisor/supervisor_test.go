package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsAndStops(t *testing.T) {
	s := New(context.Background())

	var ran atomic.Bool
	s.Go("worker", func(ctx context.Context) error {
		ran.Store(true)
		<-ctx.Done()
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	if !ran.Load() {
		t.Fatal("goroutine did not run")
	}
	if got := s.Active(); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}

	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := s.Active(); got != 0 {
		t.Fatalf("active after stop = %d", got)
	}
}

func TestPanicRecoveredAndRecorded(t *testing.T) {
	s := New(context.Background())

	s.Go("crasher", func(ctx context.Context) error {
		panic("boom")
	})
	s.Wait()

	err := s.Err()
	if err == nil || !strings.Contains(err.Error(), "crasher") {
		t.Fatalf("first error = %v", err)
	}
	stats := s.Stats()
	if len(stats) != 1 || stats[0].Panics != 1 || stats[0].Active != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("failing", func(ctx context.Context) error {
		return errors.New("broken")
	})
	s.Go("waiting", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancel-on-error did not propagate")
	}
	if s.Err() == nil {
		t.Fatal("first error not recorded")
	}
}

func TestContextCancelErrorIgnored(t *testing.T) {
	s := New(context.Background())
	s.Go("canceled", func(ctx context.Context) error {
		return context.Canceled
	})
	s.Wait()
	if err := s.Err(); err != nil {
		t.Fatalf("context.Canceled should not be recorded, got %v", err)
	}
}

func TestStopTimeout(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stubborn", func(ctx context.Context) {
		<-release
	})

	if err := s.Stop(50 * time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
	close(release)
	s.Wait()
}
