package batching

import (
	"context"

	"remindwell/internal/types"
)

// Tuning thresholds. Efficiency is items delivered per milliamp-hour spent;
// below the floor the strategy is not earning its battery cost. Success rate
// below the floor means batches are too large or too widely spaced for the
// delivery path to keep up.
const (
	efficiencyFloor       = 0.5
	successRateFloor      = 0.90
	tuneSizeStep          = 2
	tuneWindowStepMinutes = 30
	tuneWindowCapMinutes  = 360
)

// strategyStats accumulates delivery outcomes per strategy between tuning
// passes. Guarded by the optimizer mutex.
type strategyStats struct {
	attempted int
	delivered int
	failed    int
	costMAh   float64
}

func (s *strategyStats) successRate() float64 {
	if s.attempted == 0 {
		return 1.0
	}
	return float64(s.delivered) / float64(s.attempted)
}

func (s *strategyStats) efficiency() float64 {
	if s.costMAh <= 0 {
		return efficiencyFloor
	}
	return float64(s.delivered) / s.costMAh
}

// RecordOutcome feeds one dispatched batch's counters into the rolling stats
// for its strategy. Call after the orchestrator has settled the batch.
func (o *Optimizer) RecordOutcome(batch types.Batch) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.stats[batch.Strategy]
	if st == nil {
		st = &strategyStats{}
		o.stats[batch.Strategy] = st
	}
	st.attempted += batch.Attempted
	st.delivered += batch.Delivered
	st.failed += batch.Failed
	st.costMAh += batch.EstimatedCostMAh
}

// SuccessRate returns the overall delivery success rate across all strategies
// since the last tuning pass. Returns 1.0 when nothing has been attempted.
func (o *Optimizer) SuccessRate() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	attempted, delivered := 0, 0
	for _, st := range o.stats {
		attempted += st.attempted
		delivered += st.delivered
	}
	if attempted == 0 {
		return 1.0
	}
	return float64(delivered) / float64(attempted)
}

// TuneStrategies adjusts the strategy table from the rolling outcome stats.
// Low battery efficiency widens batch sizes so fixed per-batch overhead is
// amortized over more items; low success rate shrinks batch sizes and widens
// time windows. Sizes never leave [MinBatchSize, MaxBatchSize]. Stats are
// reset so each pass sees only the outcomes since the previous one.
//
// Intended to run on a slow cadence (the optimize-batching job). The feedback
// is advisory, never a correctness mechanism.
func (o *Optimizer) TuneStrategies(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.strategies {
		strat := &o.strategies[i]
		st := o.stats[strat.Name]
		if st == nil || st.attempted == 0 {
			continue
		}

		before := strat.MaxBatchSize
		switch {
		case st.successRate() < successRateFloor:
			strat.MaxBatchSize = clampSize(strat.MaxBatchSize-tuneSizeStep, o.cfg)
			if strat.TimeWindowMinutes < tuneWindowCapMinutes {
				strat.TimeWindowMinutes = min(strat.TimeWindowMinutes+tuneWindowStepMinutes, tuneWindowCapMinutes)
			}
		case st.efficiency() < efficiencyFloor:
			strat.MaxBatchSize = clampSize(strat.MaxBatchSize+tuneSizeStep, o.cfg)
		}

		if strat.MaxBatchSize != before {
			o.logger.InfoContext(ctx, "batching strategy tuned",
				"strategy", string(strat.Name),
				"batch_size_before", before,
				"batch_size_after", strat.MaxBatchSize,
				"window_minutes", strat.TimeWindowMinutes,
				"success_rate", st.successRate(),
				"efficiency", st.efficiency(),
			)
		}
	}

	o.stats = make(map[types.StrategyName]*strategyStats)
}

// Strategies returns a copy of the current strategy table for inspection.
func (o *Optimizer) Strategies() []Strategy {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Strategy, len(o.strategies))
	copy(out, o.strategies)
	return out
}

func clampSize(size int, cfg Config) int {
	if size < cfg.MinBatchSize {
		return cfg.MinBatchSize
	}
	if size > cfg.MaxBatchSize {
		return cfg.MaxBatchSize
	}
	return size
}
