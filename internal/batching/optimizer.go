package batching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindwell/internal/types"
)

// CulturalSource reports the cultural weight of a user's profile: whether it
// carries culturally significant constraints and whether the user configured
// cultural priority as high.
type CulturalSource interface {
	CulturalContext(ctx context.Context, userID string) (hasConstraints bool, priorityHigh bool)
}

// Config holds the optimizer tunables.
type Config struct {
	// BaseCostPerItemMAh is the per-item battery cost baseline in
	// milliamp-hours, scaled by the strategy's feature multiplier.
	BaseCostPerItemMAh float64

	// MinBatchSize and MaxBatchSize bound self-tuning. Tuning may move a
	// strategy's batch size but never outside these.
	MinBatchSize int
	MaxBatchSize int
}

// DefaultConfig returns the production optimizer defaults.
func DefaultConfig() Config {
	return Config{
		BaseCostPerItemMAh: 0.8,
		MinBatchSize:       2,
		MaxBatchSize:       15,
	}
}

// Optimizer groups pending work items into batches under a battery-selected
// strategy. Safe for concurrent use; strategy tuning and batch formation
// share a lock over the strategy table.
type Optimizer struct {
	evaluator types.Evaluation
	battery   types.BatterySource
	cultural  CulturalSource
	clock     types.Clock
	cfg       Config
	logger    *slog.Logger

	mu         sync.RWMutex
	strategies []Strategy
	stats      map[types.StrategyName]*strategyStats
}

// NewOptimizer creates an Optimizer over the built-in strategy table. The
// cultural source may be nil, which disables the cultural selection bias.
func NewOptimizer(evaluator types.Evaluation, battery types.BatterySource, cultural CulturalSource, clock types.Clock, cfg Config, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseCostPerItemMAh <= 0 {
		cfg.BaseCostPerItemMAh = 0.8
	}
	if cfg.MinBatchSize < 2 {
		cfg.MinBatchSize = 2
	}
	if cfg.MaxBatchSize <= cfg.MinBatchSize {
		cfg.MaxBatchSize = 15
	}
	return &Optimizer{
		evaluator:  evaluator,
		battery:    battery,
		cultural:   cultural,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		strategies: defaultStrategies(),
		stats:      make(map[types.StrategyName]*strategyStats),
	}
}

// FormBatches groups the pending set into batches. Every input item lands in
// exactly one batch; no item is dropped or duplicated. Batches inherit the
// maximum priority of their members and a median scheduling instant, shifted
// by the evaluator when the chosen strategy is culturally aware.
func (o *Optimizer) FormBatches(ctx context.Context, items []types.WorkItem) ([]types.Batch, error) {
	if len(items) == 0 {
		return nil, nil
	}

	level, err := o.battery.CurrentLevelPercent(ctx)
	if err != nil {
		// Unknown battery state: assume the worst so the zero-floor
		// strategy is chosen.
		o.logger.WarnContext(ctx, "battery level unavailable, assuming depleted",
			"error", err,
		)
		level = 0
	}

	hints := o.buildHints(ctx, items)
	strat := o.currentStrategy(level, hints)

	tiers := [][]types.WorkItem{items}
	if strat.PriorityGrouping {
		tiers = partitionByPriority(items)
	}

	var batches []types.Batch
	for _, tier := range tiers {
		batches = append(batches, o.accumulate(tier, strat)...)
	}

	if strat.CulturallyAware && o.evaluator != nil {
		for i := range batches {
			o.applyCulturalShift(ctx, &batches[i])
		}
	}

	o.logger.InfoContext(ctx, "batches formed",
		"strategy", string(strat.Name),
		"battery_percent", level,
		"item_count", len(items),
		"batch_count", len(batches),
	)
	return batches, nil
}

// buildHints scans the pending set once, consulting the cultural source per
// distinct user.
func (o *Optimizer) buildHints(ctx context.Context, items []types.WorkItem) selectionHints {
	var hints selectionHints
	seen := make(map[string]bool)
	for _, item := range items {
		if item.EffectivePriority() == types.WorkPriorityCritical {
			hints.anyCritical = true
		}
		if o.cultural == nil || hints.anyCultural || seen[item.UserID] {
			continue
		}
		seen[item.UserID] = true
		hasConstraints, priorityHigh := o.cultural.CulturalContext(ctx, item.UserID)
		if hasConstraints && priorityHigh {
			hints.anyCultural = true
		}
	}
	return hints
}

func (o *Optimizer) currentStrategy(batteryPercent int, hints selectionHints) Strategy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return selectStrategy(o.strategies, batteryPercent, hints)
}

// accumulate sorts one tier by target instant and greedily packs items into
// batches bounded by the strategy's size limit and time window. The window is
// measured from the first item in the batch.
func (o *Optimizer) accumulate(tier []types.WorkItem, strat Strategy) []types.Batch {
	if len(tier) == 0 {
		return nil
	}

	sorted := make([]types.WorkItem, len(tier))
	copy(sorted, tier)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TargetAt.Before(sorted[j].TargetAt)
	})

	window := time.Duration(strat.TimeWindowMinutes) * time.Minute

	var batches []types.Batch
	var current []types.WorkItem
	for _, item := range sorted {
		if len(current) > 0 {
			exceedsSize := len(current) >= strat.MaxBatchSize
			exceedsWindow := item.TargetAt.Sub(current[0].TargetAt) > window
			if exceedsSize || exceedsWindow {
				batches = append(batches, o.buildBatch(current, strat))
				current = nil
			}
		}
		current = append(current, item)
	}
	if len(current) > 0 {
		batches = append(batches, o.buildBatch(current, strat))
	}
	return batches
}

// buildBatch assembles one batch from already-sorted members.
func (o *Optimizer) buildBatch(members []types.WorkItem, strat Strategy) types.Batch {
	items := make([]types.WorkItem, len(members))
	copy(items, members)

	return types.Batch{
		ID:               "bat_" + uuid.NewString(),
		Strategy:         strat.Name,
		Items:            items,
		ScheduledAt:      items[(len(items)-1)/2].TargetAt,
		Priority:         maxPriority(items),
		EstimatedCostMAh: o.cfg.BaseCostPerItemMAh * float64(len(items)) * strat.costMultiplier(),
		CreatedAt:        o.clock.Now(),
	}
}

// applyCulturalShift evaluates the batch's scheduled instant through the
// constraint evaluator using the first member as representative user, and
// shifts the schedule when an adjustment comes back. Evaluation failures are
// logged and leave the batch unshifted.
func (o *Optimizer) applyCulturalShift(ctx context.Context, batch *types.Batch) {
	rep := batch.Items[0].UserID
	res, err := o.evaluator.Evaluate(ctx, rep, batch.ScheduledAt, batch.Priority)
	if err != nil {
		o.logger.WarnContext(ctx, "cultural shift evaluation failed",
			"batch_id", batch.ID,
			"representative_user", rep,
			"error", err,
		)
		return
	}
	if res.SuggestedAt == nil || res.SuggestedAt.Equal(batch.ScheduledAt) {
		return
	}
	batch.ScheduledAt = *res.SuggestedAt
	batch.Adjusted = true
	batch.AdjustmentReason = res.SuggestedReason
	if batch.AdjustmentReason == "" {
		batch.AdjustmentReason = fmt.Sprintf("shifted for constraints of user %s", rep)
	}
}

// partitionByPriority splits items into tiers in descending priority order,
// folding the life-critical flag into the ranking. Empty tiers are dropped.
func partitionByPriority(items []types.WorkItem) [][]types.WorkItem {
	order := []types.WorkPriority{
		types.WorkPriorityCritical,
		types.WorkPriorityHigh,
		types.WorkPriorityNormal,
		types.WorkPriorityLow,
	}
	byPriority := make(map[types.WorkPriority][]types.WorkItem, len(order))
	for _, item := range items {
		p := item.EffectivePriority()
		byPriority[p] = append(byPriority[p], item)
	}

	tiers := make([][]types.WorkItem, 0, len(order))
	for _, p := range order {
		if tier := byPriority[p]; len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

func maxPriority(items []types.WorkItem) types.WorkPriority {
	best := types.WorkPriorityLow
	for _, item := range items {
		if p := item.EffectivePriority(); p.Rank() > best.Rank() {
			best = p
		}
	}
	return best
}
