package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"remindwell/internal/types"
)

// blockingEvaluator denies the configured users with a suggested adjustment.
type blockingEvaluator struct {
	blockUsers map[string]bool
	suggestIn  time.Duration
}

func (e *blockingEvaluator) Evaluate(_ context.Context, userID string, instant time.Time, _ types.WorkPriority) (*types.EvaluationResult, error) {
	if !e.blockUsers[userID] {
		return &types.EvaluationResult{CanProceed: true, EvaluatedAt: instant}, nil
	}
	suggested := instant.Add(e.suggestIn)
	return &types.EvaluationResult{
		CanProceed:      false,
		SuggestedAt:     &suggested,
		SuggestedReason: "delayed past quiet_hours",
		EvaluatedAt:     instant,
	}, nil
}

// memArchiver records archived items.
type memArchiver struct {
	mu       sync.Mutex
	archived []types.WorkItem
}

func (a *memArchiver) ArchiveTerminal(_ context.Context, items []types.WorkItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, items...)
	return nil
}

func dueItem(id, userID string, at time.Time) types.WorkItem {
	return types.WorkItem{
		ID:          id,
		UserID:      userID,
		TargetAt:    at,
		Priority:    types.WorkPriorityNormal,
		PayloadRef:  "payload/" + id,
		Methods:     []types.DeliveryMethod{types.MethodPush},
		MaxAttempts: 5,
		Status:      types.WorkStatusPending,
	}
}

func TestProcessDueWork_DeliversAndMarks(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	queue := newMemQueue(
		dueItem("itm_1", "user_a", now.Add(-time.Minute)),
		dueItem("itm_2", "user_b", now.Add(-time.Minute)),
		dueItem("itm_3", "user_c", now.Add(-2*time.Minute)),
	)
	transport := &failingTransport{failIDs: map[string]bool{}}
	batcher := &passthroughBatcher{}
	o := testOrchestrator(clock, queue, batcher, transport, nil)

	summary, err := o.processDueWork(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 3 || summary.Delivered != 3 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 3 processed, 3 delivered", summary)
	}
	for _, id := range []string{"itm_1", "itm_2", "itm_3"} {
		if got := queue.get(id).Status; got != types.WorkStatusDelivered {
			t.Errorf("item %s status = %s, want delivered", id, got)
		}
	}
	if len(batcher.outcomes) != 1 {
		t.Errorf("recorded %d batch outcomes, want 1", len(batcher.outcomes))
	}
}

func TestProcessDueWork_BlockedItemDeferredWithoutAttempt(t *testing.T) {
	now := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	queue := newMemQueue(
		dueItem("itm_blocked", "user_quiet", now.Add(-time.Minute)),
		dueItem("itm_free", "user_free", now.Add(-time.Minute)),
	)
	transport := &failingTransport{failIDs: map[string]bool{}}
	o := testOrchestrator(clock, queue, &passthroughBatcher{}, transport, func(d *Deps) {
		d.Evaluator = &blockingEvaluator{
			blockUsers: map[string]bool{"user_quiet": true},
			suggestIn:  7*time.Hour + 30*time.Minute,
		}
	})

	summary, err := o.processDueWork(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.AdjustedCount != 1 {
		t.Errorf("adjusted count = %d, want 1", summary.AdjustedCount)
	}
	if summary.Delivered != 1 {
		t.Errorf("delivered = %d, want the unblocked item only", summary.Delivered)
	}

	blocked := queue.get("itm_blocked")
	if blocked.AttemptCount != 0 {
		t.Errorf("constraint deferral consumed an attempt: %d", blocked.AttemptCount)
	}
	want := now.Add(7*time.Hour + 30*time.Minute)
	if !blocked.TargetAt.Equal(want) {
		t.Errorf("deferred target = %s, want %s", blocked.TargetAt, want)
	}
	for _, id := range transport.attempts {
		if id == "itm_blocked" {
			t.Error("blocked item was handed to the transport")
		}
	}
}

func TestProcessDueWork_MonotonicBackoffThenTerminalOnce(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	queue := newMemQueue(dueItem("itm_bad", "user_a", start.Add(-time.Minute)))
	transport := &failingTransport{failIDs: map[string]bool{"itm_bad": true}}
	o := testOrchestrator(clock, queue, &passthroughBatcher{}, transport, nil)

	// Drive cycles until the item goes terminal, advancing past each retry
	// target.
	for i := 0; i < 10; i++ {
		if _, err := o.processDueWork(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if queue.get("itm_bad").Status == types.WorkStatusFailedTerminal {
			break
		}
		clock.Advance(2 * time.Hour)
	}

	item := queue.get("itm_bad")
	if item.Status != types.WorkStatusFailedTerminal {
		t.Fatalf("status = %s, want failed_terminal", item.Status)
	}
	if queue.terminalCalls["itm_bad"] != 1 {
		t.Errorf("terminal recorded %d times, want exactly once", queue.terminalCalls["itm_bad"])
	}
	if len(queue.requeues) != 4 {
		t.Fatalf("requeued %d times, want 4 before the 5-attempt cutoff", len(queue.requeues))
	}

	// Retry delays must double: 2m, 4m, 8m, 16m.
	wantDelays := []time.Duration{2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute}
	for i := range queue.requeues {
		got := queue.requeues[i].target
		// Reconstruct: cycle i ran at start + i*2h (after i advances).
		ranAt := start.Add(time.Duration(i) * 2 * time.Hour)
		if want := ranAt.Add(wantDelays[i]); !got.Equal(want) {
			t.Errorf("requeue %d target = %s, want %s", i, got, want)
		}
	}
}

func TestProcessDueWork_FutureBatchParksMembers(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	queue := newMemQueue(dueItem("itm_1", "user_a", now.Add(-time.Minute)))
	transport := &failingTransport{failIDs: map[string]bool{}}
	o := testOrchestrator(clock, queue, &futureBatcher{scheduleAt: now.Add(30 * time.Minute)}, transport, nil)

	summary, err := o.processDueWork(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 0 {
		t.Errorf("processed = %d, want 0 for a future batch", summary.Processed)
	}
	if len(transport.attempts) != 0 {
		t.Error("future batch was dispatched immediately")
	}
	if got := queue.get("itm_1").TargetAt; !got.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("parked target = %s, want batch schedule", got)
	}
}

// futureBatcher schedules every batch at a fixed future instant.
type futureBatcher struct {
	passthroughBatcher
	scheduleAt time.Time
}

func (b *futureBatcher) FormBatches(ctx context.Context, items []types.WorkItem) ([]types.Batch, error) {
	batches, err := b.passthroughBatcher.FormBatches(ctx, items)
	for i := range batches {
		batches[i].ScheduledAt = b.scheduleAt
		batches[i].Adjusted = true
		batches[i].AdjustmentReason = "shifted for constraints"
	}
	return batches, err
}

func TestSyncOfflineQueue_RecoversStaleDispatched(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	stale := dueItem("itm_stale", "user_a", now.Add(-2*time.Hour))
	stale.Status = types.WorkStatusDispatched
	fresh := dueItem("itm_fresh", "user_b", now.Add(-time.Minute))
	fresh.Status = types.WorkStatusDispatched

	queue := newMemQueue(stale, fresh)
	queue.mu.Lock()
	queue.items["itm_stale"].UpdatedAt = now.Add(-time.Hour)
	queue.items["itm_fresh"].UpdatedAt = now.Add(-time.Minute)
	queue.mu.Unlock()

	o := testOrchestrator(clock, queue, &passthroughBatcher{}, &failingTransport{}, nil)

	if err := o.runSyncOfflineQueue(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := queue.get("itm_stale"); got.Status != types.WorkStatusRetrying || got.AttemptCount != 1 {
		t.Errorf("stale item = %s attempts=%d, want retrying with 1 attempt", got.Status, got.AttemptCount)
	}
	if got := queue.get("itm_fresh"); got.Status != types.WorkStatusDispatched {
		t.Errorf("fresh dispatched item touched: %s", got.Status)
	}
}

func TestMaintenanceSweep_ArchivesThenDeletes(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	old := dueItem("itm_old", "user_a", now.Add(-100*24*time.Hour))
	old.Status = types.WorkStatusFailedTerminal
	recent := dueItem("itm_recent", "user_b", now.Add(-time.Hour))
	recent.Status = types.WorkStatusFailedTerminal

	queue := newMemQueue(old, recent)
	queue.mu.Lock()
	queue.items["itm_old"].UpdatedAt = now.Add(-90 * 24 * time.Hour)
	queue.items["itm_recent"].UpdatedAt = now.Add(-time.Hour)
	queue.mu.Unlock()

	archiver := &memArchiver{}
	o := testOrchestrator(clock, queue, &passthroughBatcher{}, &failingTransport{}, func(d *Deps) {
		d.Archiver = archiver
	})
	o.cfg.TerminalRetention = 30 * 24 * time.Hour

	if err := o.runMaintenanceSweep(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(archiver.archived) != 1 || archiver.archived[0].ID != "itm_old" {
		t.Errorf("archived %v, want only itm_old", archiver.archived)
	}
	queue.mu.Lock()
	_, oldGone := queue.items["itm_old"]
	_, recentKept := queue.items["itm_recent"]
	queue.mu.Unlock()
	if oldGone {
		t.Error("archived item not deleted")
	}
	if !recentKept {
		t.Error("recent terminal item deleted before retention expired")
	}
}
