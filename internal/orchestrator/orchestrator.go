package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"remindwell/internal/types"
)

// tickInterval is the resolution of the job scheduling loop.
const tickInterval = 5 * time.Second

// culturalDeferDelay pushes an intrusive job forward when a restricted
// window is active, short enough to retry soon after the window closes.
const culturalDeferDelay = 10 * time.Minute

// Batcher is the batching optimizer surface the orchestrator drives.
type Batcher interface {
	FormBatches(ctx context.Context, items []types.WorkItem) ([]types.Batch, error)
	RecordOutcome(batch types.Batch)
	TuneStrategies(ctx context.Context)
	SuccessRate() float64
}

// ProfileRefresher regenerates upstream-derived constraints.
type ProfileRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// CulturalGate reports whether intrusive background work should pause
// because a culturally restricted window is currently active.
type CulturalGate interface {
	RestrictedNow(ctx context.Context) bool
}

// JobStateStore persists per-job interval overrides so adaptive widening
// survives restarts.
type JobStateStore interface {
	LoadIntervals(ctx context.Context) (map[types.JobName]time.Duration, error)
	SaveInterval(ctx context.Context, name types.JobName, interval time.Duration) error
}

// MetricsPublisher emits operational telemetry. All publishing is non-fatal;
// a metric failure never fails a cycle.
type MetricsPublisher interface {
	PublishJobCycle(ctx context.Context, job types.JobName, took time.Duration, success bool) error
	PublishDeliverySummary(ctx context.Context, s types.ProcessSummary) error
	PublishBatteryImpact(ctx context.Context, mahPerHour float64, levelPercent int) error
}

// Archiver persists terminally failed work items to cold storage before the
// maintenance sweep deletes them.
type Archiver interface {
	ArchiveTerminal(ctx context.Context, items []types.WorkItem) error
}

// BatchLog durably records settled batch outcomes for telemetry review.
type BatchLog interface {
	RecordBatch(ctx context.Context, batch types.Batch) error
}

// Config holds the orchestrator tunables.
type Config struct {
	MaxConcurrentJobs int
	CycleBudget       time.Duration

	AdaptInterval     time.Duration
	AdaptThresholdMAh float64
	AdaptMultiplier   float64
	AdaptIntervalCap  time.Duration

	DueWorkPullLimit   int
	TerminalRetention  time.Duration
	DispatchRatePerSec float64

	// Retry tuning for failed deliveries.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// TuneInterval is the factory interval for the strategy-tuning job.
	TuneInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:  3,
		CycleBudget:        2 * time.Minute,
		AdaptInterval:      6 * time.Hour,
		AdaptThresholdMAh:  5.0,
		AdaptMultiplier:    1.5,
		AdaptIntervalCap:   6 * time.Hour,
		DueWorkPullLimit:   200,
		TerminalRetention:  30 * 24 * time.Hour,
		DispatchRatePerSec: 5,
		RetryBaseDelay:     2 * time.Minute,
		RetryMaxDelay:      time.Hour,
		TuneInterval:       time.Hour,
	}
}

// Deps bundles the collaborators the orchestrator drives. Queue, Batcher,
// Evaluator and Transport are required; the rest may be nil and the matching
// behavior degrades gracefully.
type Deps struct {
	Queue     types.WorkQueue
	Batcher   Batcher
	Evaluator types.Evaluation
	Transport types.DeliveryTransport
	Refresher ProfileRefresher
	Gate      CulturalGate
	Store     JobStateStore
	Metrics   MetricsPublisher
	Archiver  Archiver
	BatchLog  BatchLog
	Battery   types.BatterySource
	Clock     types.Clock
	Logger    *slog.Logger
}

// Orchestrator owns the periodic job table and the delivery pipeline.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	clock   types.Clock
	logger  *slog.Logger
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	jobs        []*jobRuntime
	lastAdaptAt time.Time
}

// New creates an Orchestrator. Persisted interval overrides are applied in
// Start, not here, so construction never touches the store.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 3
	}
	if cfg.CycleBudget <= 0 {
		cfg.CycleBudget = 2 * time.Minute
	}
	if cfg.DispatchRatePerSec <= 0 {
		cfg.DispatchRatePerSec = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Minute
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = time.Hour
	}
	if cfg.TuneInterval <= 0 {
		cfg.TuneInterval = time.Hour
	}

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		clock:   deps.Clock,
		logger:  deps.Logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.DispatchRatePerSec), 1),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
	}

	now := o.clock.Now()
	for _, job := range o.defaultJobs() {
		o.jobs = append(o.jobs, &jobRuntime{
			job:              job,
			state:            types.JobStateIdle,
			nextDueAt:        now,
			impactWindowFrom: now,
		})
	}
	o.lastAdaptAt = now
	return o
}

// Start restores persisted intervals and runs the scheduling loop until the
// context is cancelled. In-flight cycles are allowed to finish under their
// own budget deadlines.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.restoreIntervals(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	o.logger.InfoContext(ctx, "orchestrator started",
		"jobs", len(o.jobs),
		"max_concurrent", o.cfg.MaxConcurrentJobs,
	)

	for {
		select {
		case <-ctx.Done():
			o.logger.InfoContext(ctx, "orchestrator stopping")
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) restoreIntervals(ctx context.Context) {
	if o.deps.Store == nil {
		return
	}
	overrides, err := o.deps.Store.LoadIntervals(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "could not restore job intervals, using defaults",
			"error", err,
		)
		return
	}
	for _, rt := range o.jobs {
		if iv, ok := overrides[rt.job.Name]; ok && iv > 0 {
			rt.mu.Lock()
			rt.job.Interval = iv
			rt.mu.Unlock()
			o.logger.InfoContext(ctx, "restored persisted job interval",
				"job", string(rt.job.Name),
				"interval", iv.String(),
			)
		}
	}
}

// tick launches every due job that can acquire a worker slot. Jobs already
// running are skipped so a job never overlaps itself.
func (o *Orchestrator) tick(ctx context.Context) {
	o.maybeAdaptIntervals(ctx)

	now := o.clock.Now()
	var due []*jobRuntime
	for _, rt := range o.jobs {
		rt.mu.Lock()
		ready := rt.job.Enabled && rt.state != types.JobStateRunning && !now.Before(rt.nextDueAt)
		rt.mu.Unlock()
		if ready {
			due = append(due, rt)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].job.Priority < due[j].job.Priority
	})

	for _, rt := range due {
		if !o.sem.TryAcquire(1) {
			// Pool saturated; the job stays due and the next tick retries.
			return
		}
		go func(rt *jobRuntime) {
			defer o.sem.Release(1)
			o.runCycle(ctx, rt)
		}(rt)
	}
}

// runCycle executes one cycle of one job: cultural gating, budget deadline,
// state transitions, impact bookkeeping. Failures are contained; one job's
// failure never aborts another.
func (o *Orchestrator) runCycle(ctx context.Context, rt *jobRuntime) {
	now := o.clock.Now()

	if rt.job.CulturalSensitive && o.deps.Gate != nil && o.deps.Gate.RestrictedNow(ctx) {
		rt.mu.Lock()
		rt.nextDueAt = now.Add(culturalDeferDelay)
		rt.mu.Unlock()
		o.logger.InfoContext(ctx, "job deferred for restricted window",
			"job", string(rt.job.Name),
			"retry_at", now.Add(culturalDeferDelay).Format(time.RFC3339),
		)
		return
	}

	rt.mu.Lock()
	rt.state = types.JobStateRunning
	rt.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CycleBudget)
	defer cancel()

	start := time.Now()
	err := rt.job.Run(cctx)
	took := time.Since(start)

	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		err = types.NewAppError(types.ErrCodeCycleBudget,
			fmt.Sprintf("job %s exceeded cycle budget %s", rt.job.Name, o.cfg.CycleBudget), err)
	}

	rt.mu.Lock()
	ranAt := now
	rt.lastRunAt = &ranAt
	rt.lastDuration = took
	rt.nextDueAt = now.Add(rt.job.Interval)
	rt.impactMAh += rt.job.BaseCostMAhPerMin * took.Minutes()
	if err != nil {
		rt.state = types.JobStateFailed
		rt.lastError = err.Error()
		rt.consecFails++
	} else {
		rt.state = types.JobStateSuccess
		rt.lastError = ""
		rt.consecFails = 0
	}
	rt.mu.Unlock()

	if err != nil {
		o.logger.ErrorContext(ctx, "job cycle failed",
			"job", string(rt.job.Name),
			"took_ms", took.Milliseconds(),
			"error", err,
		)
	} else {
		o.logger.InfoContext(ctx, "job cycle complete",
			"job", string(rt.job.Name),
			"took_ms", took.Milliseconds(),
		)
	}

	if o.deps.Metrics != nil {
		if merr := o.deps.Metrics.PublishJobCycle(ctx, rt.job.Name, took, err == nil); merr != nil {
			o.logger.WarnContext(ctx, "failed to publish job cycle metric",
				"job", string(rt.job.Name),
				"error", merr,
			)
		}
	}
}

// maybeAdaptIntervals runs the battery-adaptive interval pass on its own slow
// cadence. Battery-sensitive jobs whose rolling impact rate exceeds the
// threshold get their interval widened by a fixed multiplier up to a hard
// cap, and the new interval is persisted so it survives restarts.
func (o *Orchestrator) maybeAdaptIntervals(ctx context.Context) {
	now := o.clock.Now()
	if now.Sub(o.lastAdaptAt) < o.cfg.AdaptInterval {
		return
	}
	o.lastAdaptAt = now

	for _, rt := range o.jobs {
		if !rt.job.BatterySensitive {
			continue
		}

		rt.mu.Lock()
		hours := now.Sub(rt.impactWindowFrom).Hours()
		impact := rt.impactMAh
		rt.impactMAh = 0
		rt.impactWindowFrom = now
		name := rt.job.Name
		interval := rt.job.Interval
		rt.mu.Unlock()

		if hours <= 0 {
			continue
		}
		ratePerHour := impact / hours
		if ratePerHour <= o.cfg.AdaptThresholdMAh {
			continue
		}

		widened := time.Duration(float64(interval) * o.cfg.AdaptMultiplier)
		if widened > o.cfg.AdaptIntervalCap {
			widened = o.cfg.AdaptIntervalCap
		}
		if widened <= interval {
			continue
		}

		rt.mu.Lock()
		rt.job.Interval = widened
		rt.mu.Unlock()

		o.logger.InfoContext(ctx, "job interval widened for battery impact",
			"job", string(name),
			"impact_mah_per_hour", ratePerHour,
			"interval_before", interval.String(),
			"interval_after", widened.String(),
		)

		if o.deps.Store != nil {
			if err := o.deps.Store.SaveInterval(ctx, name, widened); err != nil {
				o.logger.WarnContext(ctx, "failed to persist widened interval",
					"job", string(name),
					"error", err,
				)
			}
		}
	}
}

// GetHealth reports per-job status, the rolling battery impact estimate, the
// batch success rate and the current battery level.
func (o *Orchestrator) GetHealth(ctx context.Context) types.HealthReport {
	now := o.clock.Now()

	report := types.HealthReport{
		BatchSuccessRate:    1.0,
		BatteryLevelPercent: -1,
	}
	for _, rt := range o.jobs {
		report.Jobs = append(report.Jobs, rt.health())

		rt.mu.Lock()
		hours := now.Sub(rt.impactWindowFrom).Hours()
		if hours > 0 {
			report.BatteryImpactMAhHour += rt.impactMAh / hours
		}
		rt.mu.Unlock()
	}
	if o.deps.Batcher != nil {
		report.BatchSuccessRate = o.deps.Batcher.SuccessRate()
	}
	if o.deps.Battery != nil {
		if level, err := o.deps.Battery.CurrentLevelPercent(ctx); err == nil {
			report.BatteryLevelPercent = level
		}
	}
	return report
}
