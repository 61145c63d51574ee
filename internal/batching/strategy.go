// Package batching groups pending work items into power-efficient delivery
// batches. Strategy selection adapts to device battery level and to the
// cultural weight of the pending set; batch placement consults the constraint
// evaluator so grouped deliveries land outside restricted windows.
package batching

import (
	"sort"

	"remindwell/internal/types"
)

// Strategy is one row of the fixed batching strategy table. A strategy is
// eligible when the current battery level is at or above MinBatteryPercent.
type Strategy struct {
	Name              types.StrategyName
	MaxBatchSize      int
	TimeWindowMinutes int

	// MinBatteryPercent is the battery floor required to use this strategy.
	// The most aggressive eligible strategy wins.
	MinBatteryPercent int

	// Optional features. Each adds a fixed surcharge to the cost multiplier.
	CulturallyAware    bool
	AdaptiveScheduling bool
	PriorityGrouping   bool
}

// costMultiplier prices the strategy's optional features for the battery cost
// estimate. Telemetry only, never correctness.
func (s Strategy) costMultiplier() float64 {
	m := 1.0
	if s.CulturallyAware {
		m += 0.15
	}
	if s.AdaptiveScheduling {
		m += 0.10
	}
	if s.PriorityGrouping {
		m += 0.05
	}
	return m
}

// defaultStrategies returns the built-in strategy table. Conservative carries
// a zero battery floor so at least one strategy is always eligible.
func defaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:               types.StrategyAggressive,
			MaxBatchSize:       15,
			TimeWindowMinutes:  30,
			MinBatteryPercent:  50,
			AdaptiveScheduling: true,
			PriorityGrouping:   true,
		},
		{
			Name:               types.StrategyBalanced,
			MaxBatchSize:       8,
			TimeWindowMinutes:  60,
			MinBatteryPercent:  25,
			AdaptiveScheduling: true,
		},
		{
			Name:              types.StrategyCulturalPriority,
			MaxBatchSize:      6,
			TimeWindowMinutes: 120,
			MinBatteryPercent: 25,
			CulturallyAware:   true,
			PriorityGrouping:  true,
		},
		{
			Name:              types.StrategyConservative,
			MaxBatchSize:      4,
			TimeWindowMinutes: 180,
			MinBatteryPercent: 0,
			CulturallyAware:   true,
		},
	}
}

// selectionHints summarizes the pending set for strategy selection.
type selectionHints struct {
	// anyCultural is true when at least one item belongs to a user whose
	// profile carries culturally significant constraints with cultural
	// priority configured high.
	anyCultural bool

	// anyCritical is true when at least one item is critical priority.
	anyCritical bool
}

// selectStrategy picks the strategy for the current cycle. Strategies whose
// battery floor exceeds the current level are filtered out, then the highest
// floor among the survivors wins, biased by the pending set: cultural weight
// prefers a culturally aware strategy, critical items prefer priority
// grouping.
func selectStrategy(table []Strategy, batteryPercent int, hints selectionHints) Strategy {
	eligible := make([]Strategy, 0, len(table))
	for _, s := range table {
		if s.MinBatteryPercent <= batteryPercent {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		// The table should always include a zero-floor strategy; fall back
		// to the least demanding row if a custom table does not.
		eligible = append(eligible, leastDemanding(table))
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].MinBatteryPercent > eligible[j].MinBatteryPercent
	})

	if hints.anyCultural {
		for _, s := range eligible {
			if s.CulturallyAware {
				return s
			}
		}
	}
	if hints.anyCritical {
		for _, s := range eligible {
			if s.PriorityGrouping {
				return s
			}
		}
	}
	return eligible[0]
}

func leastDemanding(table []Strategy) Strategy {
	best := table[0]
	for _, s := range table[1:] {
		if s.MinBatteryPercent < best.MinBatteryPercent {
			best = s
		}
	}
	return best
}
