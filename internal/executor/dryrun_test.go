package executor

import (
	"context"
	"testing"
	"time"

	"pacekeeper/internal/brain"
	"pacekeeper/internal/eventbus"
	"pacekeeper/internal/queue"
	"pacekeeper/internal/storage"
	logx "pacekeeper/pkg/logx"
)

func TestDryRunCompletesItems(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New(logx.Nop())
	q := queue.New(storage.NewMem(), bus, logx.Nop())
	q.Add(ctx, "p1", false, "test")
	q.Add(ctx, "p2", false, "test")

	exec := DryRun(ctx, q, logx.Nop())
	plan := brain.SessionPlan{
		ID:              "s1",
		PlannedDuration: 20 * time.Millisecond,
		Items:           q.Next(ctx, 2),
	}

	stats := exec(plan)
	if stats.ItemsStarted != 2 || stats.ItemsCompleted != 2 || stats.ItemsFailed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	qs := q.Stats(ctx)
	if qs.Completed != 2 || qs.Pending != 0 {
		t.Fatalf("queue stats = %+v", qs)
	}
}

func TestDryRunHonorsCancellation(t *testing.T) {
	bg := context.Background()
	bus := eventbus.New(logx.Nop())
	q := queue.New(storage.NewMem(), bus, logx.Nop())
	q.Add(bg, "p1", false, "test")
	q.Add(bg, "p2", false, "test")

	ctx, cancel := context.WithCancel(bg)
	cancel()

	exec := DryRun(ctx, q, logx.Nop())
	stats := exec(brain.SessionPlan{
		ID:              "s1",
		PlannedDuration: time.Hour,
		Items:           q.Next(bg, 2),
	})

	if stats.ItemsCompleted != 0 {
		t.Fatalf("canceled run completed items: %+v", stats)
	}
}
