// Package orchestrator drives the periodic background jobs that keep the
// scheduling subsystem moving: delivering due work, refreshing constraint
// profiles, recovering the offline queue, tuning the batching strategies, and
// sweeping terminally failed work into the archive.
//
// One orchestrator instance is active per process. Each job runs its cycles
// sequentially (a job never overlaps itself) while different jobs may run
// concurrently under a bounded pool.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"remindwell/internal/types"
)

// JobFunc is one cycle of a periodic job. The context carries the cycle
// budget deadline; implementations must respect it.
type JobFunc func(ctx context.Context) error

// Job is one row of the periodic job table.
type Job struct {
	Name     types.JobName
	Enabled  bool
	Interval time.Duration

	// Priority orders launch when several jobs come due on the same tick.
	// Lower is sooner.
	Priority int

	// BatterySensitive jobs participate in adaptive interval widening.
	BatterySensitive bool

	// CulturalSensitive marks intrusive jobs that are deferred while a
	// culturally restricted window is active for any known user.
	CulturalSensitive bool

	// BaseCostMAhPerMin scales execution time into an estimated battery
	// impact, telemetry only.
	BaseCostMAhPerMin float64

	Run JobFunc
}

// jobRuntime tracks one job's execution state and rolling battery impact.
// All fields are guarded by mu.
type jobRuntime struct {
	mu  sync.Mutex
	job Job

	state        types.JobState
	nextDueAt    time.Time
	lastRunAt    *time.Time
	lastError    string
	consecFails  int
	lastDuration time.Duration

	// Rolling battery impact since the last adaptive-interval pass.
	impactMAh        float64
	impactWindowFrom time.Time
}

func (r *jobRuntime) health() types.JobHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.JobHealth{
		Name:           r.job.Name,
		State:          r.state,
		Enabled:        r.job.Enabled,
		Interval:       r.job.Interval.String(),
		LastRunAt:      r.lastRunAt,
		LastError:      r.lastError,
		ConsecFails:    r.consecFails,
		LastDurationMS: r.lastDuration.Milliseconds(),
	}
}

// defaultJobs builds the job table wired to the orchestrator's services.
// Intervals here are the factory defaults; persisted overrides from earlier
// adaptive widening are applied on top during construction.
func (o *Orchestrator) defaultJobs() []Job {
	return []Job{
		{
			Name:              types.JobDeliverDueWork,
			Enabled:           true,
			Interval:          time.Minute,
			Priority:          1,
			BatterySensitive:  true,
			CulturalSensitive: false, // constraint checks happen per item
			BaseCostMAhPerMin: 1.2,
			Run:               o.runDeliverDueWork,
		},
		{
			Name:              types.JobRefreshConstraints,
			Enabled:           true,
			Interval:          6 * time.Hour,
			Priority:          2,
			BatterySensitive:  true,
			CulturalSensitive: false,
			BaseCostMAhPerMin: 0.6,
			Run:               o.runRefreshConstraints,
		},
		{
			Name:              types.JobSyncOfflineQueue,
			Enabled:           true,
			Interval:          15 * time.Minute,
			Priority:          3,
			BatterySensitive:  true,
			CulturalSensitive: true,
			BaseCostMAhPerMin: 0.8,
			Run:               o.runSyncOfflineQueue,
		},
		{
			Name:              types.JobOptimizeBatching,
			Enabled:           true,
			Interval:          o.cfg.TuneInterval,
			Priority:          4,
			BatterySensitive:  false,
			CulturalSensitive: false,
			BaseCostMAhPerMin: 0.2,
			Run:               o.runOptimizeBatching,
		},
		{
			Name:              types.JobMaintenanceSweep,
			Enabled:           true,
			Interval:          24 * time.Hour,
			Priority:          5,
			BatterySensitive:  false,
			CulturalSensitive: true,
			BaseCostMAhPerMin: 0.4,
			Run:               o.runMaintenanceSweep,
		},
	}
}
