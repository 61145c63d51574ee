package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindwell/internal/types"
)

// dispatchGrace lets batches scheduled marginally in the future go out now
// instead of waiting a whole cycle.
const dispatchGrace = time.Minute

// defaultMaxAttempts applies when a work item carries no explicit cutoff.
const defaultMaxAttempts = 5

func (o *Orchestrator) runDeliverDueWork(ctx context.Context) error {
	summary, err := o.processDueWork(ctx)

	if o.deps.Metrics != nil && summary.Processed > 0 {
		if merr := o.deps.Metrics.PublishDeliverySummary(ctx, summary); merr != nil {
			o.logger.WarnContext(ctx, "failed to publish delivery summary metric",
				"error", merr,
			)
		}
	}
	return err
}

// ProcessNow runs one delivery pass outside the job schedule, for the manual
// processing endpoint. It shares the pipeline with the deliver_due_work job
// but bypasses its interval and state machine.
func (o *Orchestrator) ProcessNow(ctx context.Context) (types.ProcessSummary, error) {
	return o.processDueWork(ctx)
}

// processDueWork is one pass of the delivery pipeline: pull due work, gate
// each item through the evaluator, batch the deliverable remainder, dispatch
// due batches and settle every outcome.
func (o *Orchestrator) processDueWork(ctx context.Context) (types.ProcessSummary, error) {
	var summary types.ProcessSummary
	now := o.clock.Now()

	items, err := o.deps.Queue.ListDue(ctx, now, o.cfg.DueWorkPullLimit)
	if err != nil {
		return summary, fmt.Errorf("orchestrator: listing due work: %w", err)
	}
	if len(items) == 0 {
		return summary, nil
	}

	deliverable := make([]types.WorkItem, 0, len(items))
	for _, item := range items {
		res, err := o.deps.Evaluator.Evaluate(ctx, item.UserID, now, item.EffectivePriority())
		if err != nil {
			// Evaluation trouble never blocks delivery.
			o.logger.WarnContext(ctx, "evaluation failed, delivering anyway",
				"item_id", item.ID,
				"user_id", item.UserID,
				"error", err,
			)
			deliverable = append(deliverable, item)
			continue
		}
		if res.CanProceed {
			deliverable = append(deliverable, item)
			continue
		}

		next, reason := deferTarget(res, now)
		if err := o.deps.Queue.Defer(ctx, item.ID, next, reason); err != nil {
			o.logger.ErrorContext(ctx, "failed to defer blocked work item",
				"item_id", item.ID,
				"error", err,
			)
			continue
		}
		summary.AdjustedCount++
		o.logger.InfoContext(ctx, "work item deferred for constraint",
			"item_id", item.ID,
			"user_id", item.UserID,
			"next_target", next.Format(time.RFC3339),
			"reason", reason,
		)
	}

	if len(deliverable) == 0 {
		return summary, nil
	}

	batches, err := o.deps.Batcher.FormBatches(ctx, deliverable)
	if err != nil {
		return summary, fmt.Errorf("orchestrator: forming batches: %w", err)
	}

	for i := range batches {
		batch := &batches[i]

		if batch.ScheduledAt.After(now.Add(dispatchGrace)) {
			// The optimizer pushed this batch into the future; park its
			// members until then.
			for _, item := range batch.Items {
				reason := batch.AdjustmentReason
				if reason == "" {
					reason = "grouped into batch " + batch.ID
				}
				if err := o.deps.Queue.Defer(ctx, item.ID, batch.ScheduledAt, reason); err != nil {
					o.logger.ErrorContext(ctx, "failed to park batched work item",
						"item_id", item.ID,
						"batch_id", batch.ID,
						"error", err,
					)
				}
			}
			if batch.Adjusted {
				summary.AdjustedCount += len(batch.Items)
			}
			continue
		}

		o.dispatchBatch(ctx, batch, &summary)
		o.deps.Batcher.RecordOutcome(*batch)
		if o.deps.BatchLog != nil {
			if err := o.deps.BatchLog.RecordBatch(ctx, *batch); err != nil {
				o.logger.WarnContext(ctx, "failed to record batch outcome",
					"batch_id", batch.ID,
					"error", err,
				)
			}
		}
	}
	return summary, nil
}

// deferTarget picks the instant a blocked item moves to, preferring the
// evaluator's suggestion, then the next open slot, then a blind hour.
func deferTarget(res *types.EvaluationResult, now time.Time) (time.Time, string) {
	switch {
	case res.SuggestedAt != nil:
		reason := res.SuggestedReason
		if reason == "" {
			reason = "adjusted for active constraint"
		}
		return *res.SuggestedAt, reason
	case res.NextAvailableSlot != nil:
		return *res.NextAvailableSlot, "moved to next available slot"
	default:
		return now.Add(time.Hour), "no open slot within search horizon, retrying later"
	}
}

// dispatchBatch hands each member to the delivery transport under the
// dispatch rate limit and settles every outcome on the queue.
func (o *Orchestrator) dispatchBatch(ctx context.Context, batch *types.Batch, summary *types.ProcessSummary) {
	ids := make([]string, len(batch.Items))
	for i, item := range batch.Items {
		ids[i] = item.ID
	}
	if err := o.deps.Queue.MarkDispatched(ctx, ids, o.clock.Now()); err != nil {
		o.logger.WarnContext(ctx, "failed to mark batch dispatched",
			"batch_id", batch.ID,
			"error", err,
		)
	}

	for _, item := range batch.Items {
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}

		batch.Attempted++
		summary.Processed++

		if err := o.deliverItem(ctx, item); err != nil {
			batch.Failed++
			summary.Failed++
			o.settleFailure(ctx, item, err)
			continue
		}

		batch.Delivered++
		summary.Delivered++
		if err := o.deps.Queue.MarkDelivered(ctx, item.ID, o.clock.Now()); err != nil {
			o.logger.ErrorContext(ctx, "failed to mark work item delivered",
				"item_id", item.ID,
				"error", err,
			)
		}
	}
}

// deliverItem tries the item's delivery methods in descending preference
// until one succeeds.
func (o *Orchestrator) deliverItem(ctx context.Context, item types.WorkItem) error {
	var lastErr error
	for _, method := range item.Methods {
		if err := o.deps.Transport.Deliver(ctx, item, method); err != nil {
			lastErr = err
			o.logger.WarnContext(ctx, "delivery attempt failed",
				"item_id", item.ID,
				"method", string(method),
				"error", err,
			)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no delivery methods configured")
	}
	return lastErr
}

// settleFailure requeues a failed item with an exponentially backed-off
// target, or records a terminal failure once the attempt cutoff is reached.
func (o *Orchestrator) settleFailure(ctx context.Context, item types.WorkItem, cause error) {
	attempts := item.AttemptCount + 1
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	if attempts >= maxAttempts {
		if _, err := o.deps.Queue.MarkTerminal(ctx, item.ID, cause.Error()); err != nil {
			o.logger.ErrorContext(ctx, "failed to record terminal failure",
				"item_id", item.ID,
				"error", err,
			)
			return
		}
		o.logger.ErrorContext(ctx, "work item failed terminally",
			"item_id", item.ID,
			"user_id", item.UserID,
			"attempts", attempts,
			"cause", cause.Error(),
		)
		return
	}

	next := o.clock.Now().Add(o.retryDelay(attempts))
	if err := o.deps.Queue.Requeue(ctx, item.ID, next, cause.Error()); err != nil {
		o.logger.ErrorContext(ctx, "failed to requeue work item",
			"item_id", item.ID,
			"error", err,
		)
		return
	}
	o.logger.InfoContext(ctx, "work item requeued",
		"item_id", item.ID,
		"attempt", attempts,
		"next_target", next.Format(time.RFC3339),
	)
}

// retryDelay doubles the base delay per prior attempt, capped at the
// configured maximum.
func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	d := o.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.cfg.RetryMaxDelay {
			return o.cfg.RetryMaxDelay
		}
	}
	return d
}
