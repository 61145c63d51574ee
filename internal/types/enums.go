package types

// ConstraintCategory identifies the kind of cultural or personal constraint.
type ConstraintCategory string

const (
	CategoryPrayerWindow  ConstraintCategory = "prayer_window"
	CategoryFastingPeriod ConstraintCategory = "fasting_period"
	CategoryQuietHours    ConstraintCategory = "quiet_hours"
	CategoryMealTime      ConstraintCategory = "meal_time"
	CategoryCustom        ConstraintCategory = "custom"
)

// ConstraintPriority ranks constraints against each other during evaluation.
type ConstraintPriority string

const (
	PriorityLow      ConstraintPriority = "low"
	PriorityMedium   ConstraintPriority = "medium"
	PriorityHigh     ConstraintPriority = "high"
	PriorityCritical ConstraintPriority = "critical"
)

// Rank returns a numeric ordering for a ConstraintPriority so priorities can
// be compared. Unknown values rank lowest.
func (p ConstraintPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// FallbackPolicy determines how a conflicting instant is corrected.
type FallbackPolicy string

const (
	// FallbackDelay moves the instant past the end of the window plus buffer.
	FallbackDelay FallbackPolicy = "delay"
	// FallbackAdvance moves the instant before the start of the window minus buffer.
	FallbackAdvance FallbackPolicy = "advance"
	// FallbackSkipDay moves the instant to the same clock time the next day.
	FallbackSkipDay FallbackPolicy = "skip_day"
	// FallbackReschedule searches forward for the next permitted slot.
	FallbackReschedule FallbackPolicy = "reschedule"
)

// WorkPriority ranks pending work items. Critical work bypasses all
// constraint-based suppression.
type WorkPriority string

const (
	WorkPriorityLow      WorkPriority = "low"
	WorkPriorityNormal   WorkPriority = "normal"
	WorkPriorityHigh     WorkPriority = "high"
	WorkPriorityCritical WorkPriority = "critical"
)

// Rank returns a numeric ordering for a WorkPriority.
func (p WorkPriority) Rank() int {
	switch p {
	case WorkPriorityCritical:
		return 4
	case WorkPriorityHigh:
		return 3
	case WorkPriorityNormal:
		return 2
	case WorkPriorityLow:
		return 1
	default:
		return 0
	}
}

// WorkStatus enumerates the lifecycle states of a pending work item.
// These values MUST match the CHECK constraint in the work_items table.
type WorkStatus string

const (
	WorkStatusPending        WorkStatus = "pending"
	WorkStatusDispatched     WorkStatus = "dispatched"
	WorkStatusDelivered      WorkStatus = "delivered"
	WorkStatusRetrying       WorkStatus = "retrying"
	WorkStatusFailedTerminal WorkStatus = "failed_terminal"
)

// DeliveryMethod identifies a delivery channel, tried in descending
// configured preference until one succeeds or all fail.
type DeliveryMethod string

const (
	MethodPush  DeliveryMethod = "push"
	MethodSMS   DeliveryMethod = "sms"
	MethodEmail DeliveryMethod = "email"
	MethodVoice DeliveryMethod = "voice"
)

// StrategyName identifies a batching strategy configuration.
type StrategyName string

const (
	StrategyAggressive       StrategyName = "aggressive"
	StrategyBalanced         StrategyName = "balanced"
	StrategyConservative     StrategyName = "conservative"
	StrategyCulturalPriority StrategyName = "cultural_priority"
)

// JobName identifies a periodic orchestrator job.
type JobName string

const (
	JobDeliverDueWork     JobName = "deliver_due_work"
	JobRefreshConstraints JobName = "refresh_constraints"
	JobSyncOfflineQueue   JobName = "sync_offline_queue"
	JobOptimizeBatching   JobName = "optimize_batching"
	JobMaintenanceSweep   JobName = "maintenance_sweep"
)

// JobState represents the execution state of a periodic job.
type JobState string

const (
	JobStateIdle    JobState = "idle"
	JobStateRunning JobState = "running"
	JobStateSuccess JobState = "success"
	JobStateFailed  JobState = "failed"
)

// ConstraintSource records where a constraint came from, used only for
// refresh bookkeeping, never for evaluation logic.
type ConstraintSource string

const (
	SourceUpstream ConstraintSource = "upstream"
	SourceUser     ConstraintSource = "user"
	SourceDefault  ConstraintSource = "default"
)

// SpecialPeriodKind identifies a cultural calendar period.
type SpecialPeriodKind string

const (
	PeriodRamadan SpecialPeriodKind = "ramadan"
	PeriodLent    SpecialPeriodKind = "lent"
	PeriodSabbath SpecialPeriodKind = "sabbath"
)

// PrayerName identifies one of the five daily prayer instants supplied by the
// upstream astronomical source.
type PrayerName string

const (
	PrayerFajr    PrayerName = "fajr"
	PrayerDhuhr   PrayerName = "dhuhr"
	PrayerAsr     PrayerName = "asr"
	PrayerMaghrib PrayerName = "maghrib"
	PrayerIsha    PrayerName = "isha"
)

// PrayerOrder is the canonical chronological ordering of daily prayers.
var PrayerOrder = []PrayerName{PrayerFajr, PrayerDhuhr, PrayerAsr, PrayerMaghrib, PrayerIsha}
