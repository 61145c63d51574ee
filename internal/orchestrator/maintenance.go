package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// staleDispatchAge is how long an item may sit in dispatched state before
// the offline-queue sync assumes the hand-off was lost.
const staleDispatchAge = 30 * time.Minute

// sweepBatchLimit bounds one maintenance pass so a huge backlog cannot blow
// the cycle budget.
const sweepBatchLimit = 500

func (o *Orchestrator) runRefreshConstraints(ctx context.Context) error {
	if o.deps.Refresher == nil {
		return nil
	}
	refreshed, err := o.deps.Refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: refreshing constraints: %w", err)
	}
	o.logger.InfoContext(ctx, "constraint profiles refreshed",
		"refreshed", refreshed,
	)
	return nil
}

// runSyncOfflineQueue recovers items stuck in dispatched state. A lost
// hand-off counts as a failed attempt, so the usual backoff and terminal
// cutoff apply.
func (o *Orchestrator) runSyncOfflineQueue(ctx context.Context) error {
	cutoff := o.clock.Now().Add(-staleDispatchAge)
	items, err := o.deps.Queue.ListStaleDispatched(ctx, cutoff, o.cfg.DueWorkPullLimit)
	if err != nil {
		return fmt.Errorf("orchestrator: listing stale dispatched work: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		o.settleFailure(ctx, item, fmt.Errorf("dispatch unconfirmed after %s", staleDispatchAge))
	}
	o.logger.InfoContext(ctx, "stale dispatched work recovered",
		"count", len(items),
	)
	return nil
}

func (o *Orchestrator) runOptimizeBatching(ctx context.Context) error {
	o.deps.Batcher.TuneStrategies(ctx)

	if o.deps.Metrics != nil {
		health := o.GetHealth(ctx)
		if err := o.deps.Metrics.PublishBatteryImpact(ctx, health.BatteryImpactMAhHour, health.BatteryLevelPercent); err != nil {
			o.logger.WarnContext(ctx, "failed to publish battery impact metric",
				"error", err,
			)
		}
	}
	return nil
}

// runMaintenanceSweep archives terminally failed work past the retention
// cutoff and deletes it. Items are never deleted unarchived.
func (o *Orchestrator) runMaintenanceSweep(ctx context.Context) error {
	cutoff := o.clock.Now().Add(-o.cfg.TerminalRetention)
	items, err := o.deps.Queue.ListTerminalBefore(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		return fmt.Errorf("orchestrator: listing terminal work: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	if o.deps.Archiver != nil {
		if err := o.deps.Archiver.ArchiveTerminal(ctx, items); err != nil {
			return fmt.Errorf("orchestrator: archiving terminal work: %w", err)
		}
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	deleted, err := o.deps.Queue.DeleteByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("orchestrator: deleting archived work: %w", err)
	}
	o.logger.InfoContext(ctx, "terminal work swept",
		"archived", len(items),
		"deleted", deleted,
	)
	return nil
}
