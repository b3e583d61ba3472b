// Package executor provides the built-in dry-run session executor. The real
// work layer (browser driver, content extraction) lives outside this process
// and replaces it via the coordinator's RegisterExecutor.
package executor

import (
	"context"
	"time"

	"pacekeeper/internal/brain"
	"pacekeeper/internal/queue"
	logx "pacekeeper/pkg/logx"
)

// DryRun returns an executor that walks the plan's items without doing any
// real work: each item is marked in-progress, held for an even slice of the
// planned duration, then marked completed. It honors ctx for shutdown.
func DryRun(ctx context.Context, q *queue.Queue, log logx.Logger) func(plan brain.SessionPlan) brain.SessionStats {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("component", "executor"))

	return func(plan brain.SessionPlan) brain.SessionStats {
		stats := brain.SessionStats{Extra: map[string]any{"mode": "dry_run"}}
		if len(plan.Items) == 0 {
			return stats
		}

		slice := plan.PlannedDuration / time.Duration(len(plan.Items))
		if slice <= 0 {
			slice = time.Second
		}

		for _, item := range plan.Items {
			select {
			case <-ctx.Done():
				log.Warn("dry run interrupted", logx.String("session_id", plan.ID))
				return stats
			default:
			}

			stats.ItemsStarted++
			q.MarkStatus(ctx, item.Key, queue.StatusInProgress, nil)
			log.Debug("processing item", logx.String("key", item.Key), logx.Duration("hold", slice))

			t := time.NewTimer(slice)
			select {
			case <-ctx.Done():
				t.Stop()
				q.MarkStatus(ctx, item.Key, queue.StatusFailed, map[string]any{"reason": "shutdown"})
				stats.ItemsFailed++
				log.Warn("dry run interrupted", logx.String("session_id", plan.ID))
				return stats
			case <-t.C:
			}

			q.MarkStatus(ctx, item.Key, queue.StatusCompleted, map[string]any{"mode": "dry_run"})
			stats.ItemsCompleted++
		}
		return stats
	}
}
