package types

import (
	"time"
)

// Location represents a geographic coordinate used by location-dependent
// constraints such as prayer windows.
type Location struct {
	Lat float64 `json:"lat" db:"location_lat"`
	Lon float64 `json:"lon" db:"location_lon"`
}

// TimeWindow is a recurring daily interval inside a Constraint. Start and End
// are wall-clock times ("HH:MM"); a window whose End is before its Start
// crosses midnight. BufferMinutes expands the window symmetrically on both
// sides. Days limits the window to specific weekdays; empty means every day.
type TimeWindow struct {
	Start         string         `json:"start" validate:"required"`
	End           string         `json:"end" validate:"required"`
	Days          []time.Weekday `json:"days,omitempty" validate:"omitempty,dive,min=0,max=6"`
	BlockEntirely bool           `json:"block_entirely"`
	BufferMinutes int            `json:"buffer_minutes" validate:"min=0,max=180"`
	Fallback      FallbackPolicy `json:"fallback" validate:"required,oneof=delay advance skip_day reschedule"`
}

// Constraint is a rule forbidding or penalizing scheduling within one or more
// time windows. Windows within one constraint need not be disjoint; evaluation
// considers all of them and takes the most restrictive outcome.
type Constraint struct {
	ID       string             `json:"id" db:"id"`
	UserID   string             `json:"user_id" db:"user_id"`
	Category ConstraintCategory `json:"category" db:"category" validate:"required,oneof=prayer_window fasting_period quiet_hours meal_time custom"`
	Priority ConstraintPriority `json:"priority" db:"priority" validate:"required,oneof=low medium high critical"`

	// Activation window, half-open: [EffectiveFrom, EffectiveUntil).
	// A zero EffectiveUntil means no expiry.
	EffectiveFrom  time.Time `json:"effective_from" db:"effective_from"`
	EffectiveUntil time.Time `json:"effective_until,omitempty" db:"effective_until"`
	IsActive       bool      `json:"is_active" db:"is_active"`

	Windows []TimeWindow `json:"windows" validate:"required,min=1,dive"`

	// Provenance metadata, used only for refresh bookkeeping.
	Source      ConstraintSource `json:"source,omitempty" db:"source"`
	Confidence  float64          `json:"confidence,omitempty" db:"confidence"`
	AutoRefresh bool             `json:"auto_refresh" db:"auto_refresh"`

	Version   int       `json:"-" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ActiveAt reports whether the constraint applies at the given instant,
// considering both the IsActive flag and the activation window.
func (c *Constraint) ActiveAt(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if t.Before(c.EffectiveFrom) {
		return false
	}
	if !c.EffectiveUntil.IsZero() && !t.Before(c.EffectiveUntil) {
		return false
	}
	return true
}

// UserPreferences holds per-user scheduling preferences.
type UserPreferences struct {
	StrictMode             bool           `json:"strict_mode"`
	DefaultBufferMinutes   int            `json:"default_buffer_minutes" validate:"min=0,max=180"`
	PreferredFallback      FallbackPolicy `json:"preferred_fallback,omitempty" validate:"omitempty,oneof=delay advance skip_day reschedule"`
	NotifyOnAdjustment     bool           `json:"notify_on_adjustment"`
	PrayerRemindersEnabled bool           `json:"prayer_reminders_enabled"`
	// CulturalPriority biases batching toward culturally aware strategies
	// when set to "high".
	CulturalPriority string `json:"cultural_priority,omitempty" validate:"omitempty,oneof=low medium high"`
}

// UserProfile owns the active constraint set for one user plus the timezone
// and location needed by location-dependent constraints. Exactly one profile
// exists per user; it is held in the orchestrator's working set and mirrored
// to the constraint store.
type UserProfile struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Timezone    string          `json:"timezone" db:"timezone" validate:"required"`
	Location    *Location       `json:"location,omitempty"`
	Constraints []Constraint    `json:"constraints"`
	Preferences UserPreferences `json:"preferences"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ActiveConstraints returns the constraints applicable at the given instant.
func (p *UserProfile) ActiveConstraints(t time.Time) []Constraint {
	var out []Constraint
	for _, c := range p.Constraints {
		if c.ActiveAt(t) {
			out = append(out, c)
		}
	}
	return out
}

// WorkItem is a scheduled delivery: one due occurrence of a reminder for one
// user. Created when a reminder schedule produces a due occurrence, removed on
// successful delivery or terminal failure, mutated on each attempt.
type WorkItem struct {
	ID         string       `json:"id" db:"id"`
	UserID     string       `json:"user_id" db:"user_id" validate:"required"`
	TargetAt   time.Time    `json:"target_at" db:"target_at" validate:"required"`
	Priority   WorkPriority `json:"priority" db:"priority" validate:"required,oneof=low normal high critical"`
	PayloadRef string       `json:"payload_ref" db:"payload_ref" validate:"required"`

	// LifeCritical marks work that must never be blocked by constraints
	// (e.g., critical medication). Evaluation only annotates conflicts.
	LifeCritical bool `json:"life_critical" db:"life_critical"`

	// Methods is the delivery-method preference list in descending order.
	Methods []DeliveryMethod `json:"methods" validate:"required,min=1,dive,oneof=push sms email voice"`

	// Retry bookkeeping.
	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	MaxAttempts   int        `json:"max_attempts" db:"max_attempts"`
	FailureReason string     `json:"failure_reason,omitempty" db:"failure_reason"`

	Status    WorkStatus `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// EffectivePriority folds the LifeCritical flag into the priority ranking.
func (w *WorkItem) EffectivePriority() WorkPriority {
	if w.LifeCritical {
		return WorkPriorityCritical
	}
	return w.Priority
}

// Batch groups work items sharing a scheduled dispatch instant. Batches are
// formed by the optimizer, consumed by the orchestrator, and discarded after
// dispatch; failed members are re-queued as individual work items.
type Batch struct {
	ID          string       `json:"id" db:"id"`
	Strategy    StrategyName `json:"strategy" db:"strategy"`
	Items       []WorkItem   `json:"items"`
	ScheduledAt time.Time    `json:"scheduled_at" db:"scheduled_at"`

	// Priority is the maximum of member priorities.
	Priority WorkPriority `json:"priority" db:"priority"`

	// EstimatedCostMAh is the estimated battery cost in milliamp-hours,
	// used only for telemetry and strategy self-tuning.
	EstimatedCostMAh float64 `json:"estimated_cost_mah" db:"estimated_cost_mah"`

	// Adjusted records whether cultural optimization shifted the schedule.
	Adjusted         bool   `json:"adjusted"`
	AdjustmentReason string `json:"adjustment_reason,omitempty"`

	Attempted int       `json:"attempted"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ConflictInfo describes one constraint that conflicts with an evaluated
// instant.
type ConflictInfo struct {
	ConstraintID string             `json:"constraint_id"`
	Category     ConstraintCategory `json:"category"`
	Priority     ConstraintPriority `json:"priority"`
	WindowStart  string             `json:"window_start"`
	WindowEnd    string             `json:"window_end"`
	Blocking     bool               `json:"blocking"`
}

// EvaluationResult is the transient outcome of a constraint evaluation. It is
// never persisted; results are cached briefly keyed by (user, instant) to
// avoid recomputation during batch formation.
type EvaluationResult struct {
	CanProceed bool           `json:"can_proceed"`
	Conflicts  []ConflictInfo `json:"conflicting_constraints,omitempty"`

	// SuggestedAt is the most conservative adjusted instant among all
	// fallback candidates, with a human-readable reason.
	SuggestedAt     *time.Time `json:"suggested_at,omitempty"`
	SuggestedReason string     `json:"suggested_reason,omitempty"`

	// NextAvailableSlot is the next instant within the search horizon at
	// which evaluation permits the work. Nil when none was found; callers
	// must apply their own escalation.
	NextAvailableSlot *time.Time `json:"next_available_slot,omitempty"`

	Recommendations []string `json:"recommendations,omitempty"`

	// Overridden is set when a life-critical override forced CanProceed
	// despite blocking conflicts, for audit purposes.
	Overridden bool `json:"overridden,omitempty"`

	// FailOpen is set when the result defaulted to permitted because no
	// profile was available.
	FailOpen bool `json:"fail_open,omitempty"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PrayerTimes carries the five named daily prayer instants for one date and
// location, as supplied by the upstream astronomical source. Instants are
// stable and sorted chronologically.
type PrayerTimes struct {
	Date  time.Time                `json:"date"`
	Times map[PrayerName]time.Time `json:"times"`
}

// Sorted returns the prayer instants in canonical chronological order.
func (p PrayerTimes) Sorted() []time.Time {
	out := make([]time.Time, 0, len(PrayerOrder))
	for _, name := range PrayerOrder {
		if t, ok := p.Times[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ProcessSummary reports the outcome of one delivery cycle.
type ProcessSummary struct {
	Processed     int `json:"processed"`
	Delivered     int `json:"delivered"`
	Failed        int `json:"failed"`
	AdjustedCount int `json:"adjusted_count"`
}

// JobHealth is the externally visible status of one periodic job.
type JobHealth struct {
	Name           JobName    `json:"name"`
	State          JobState   `json:"state"`
	Enabled        bool       `json:"enabled"`
	Interval       string     `json:"interval"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	ConsecFails    int        `json:"consecutive_failures"`
	LastDurationMS int64      `json:"last_duration_ms"`
}

// HealthReport aggregates orchestrator health for the GetHealth surface.
type HealthReport struct {
	Jobs                 []JobHealth `json:"jobs"`
	BatteryImpactMAhHour float64     `json:"battery_impact_mah_per_hour"`
	BatchSuccessRate     float64     `json:"batch_success_rate"`
	BatteryLevelPercent  int         `json:"battery_level_percent"`
}
