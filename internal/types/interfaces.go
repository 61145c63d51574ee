package types

import (
	"context"
	"time"
)

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// PrayerTimeSource supplies the five named daily prayer instants for a
// location and date. Failures degrade to "no prayer constraints this cycle",
// never a crash.
type PrayerTimeSource interface {
	GetTimesFor(ctx context.Context, loc Location, date time.Time) (PrayerTimes, error)
}

// CulturalCalendar reports whether a special cultural period (e.g., a fasting
// month) is active on a given date.
type CulturalCalendar interface {
	IsSpecialPeriodActive(ctx context.Context, kind SpecialPeriodKind, date time.Time) (bool, error)
}

// DeliveryTransport executes one delivery attempt over a single method.
// The orchestrator tries methods in descending configured preference until
// one succeeds or all fail.
type DeliveryTransport interface {
	Deliver(ctx context.Context, item WorkItem, method DeliveryMethod) error
}

// BatterySource reports the current device battery level.
type BatterySource interface {
	// CurrentLevelPercent returns the battery charge in [0, 100].
	CurrentLevelPercent(ctx context.Context) (int, error)
}

// ConstraintStore is the durable persistence surface for user profiles and
// their constraints. All writes are idempotent upserts keyed by stable string
// identifiers so duplicate replays after a crash are safe.
type ConstraintStore interface {
	UpsertProfile(ctx context.Context, profile *UserProfile) error
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	DeleteProfile(ctx context.Context, userID string) error
	// ListUserIDs returns the IDs of all stored profiles.
	ListUserIDs(ctx context.Context) ([]string, error)
}

// WorkQueue is the durable pending-work store (offline queue).
type WorkQueue interface {
	Upsert(ctx context.Context, item *WorkItem) error
	// ListDue returns pending or retrying items with target_at <= now,
	// ordered by target_at ascending.
	ListDue(ctx context.Context, now time.Time, limit int) ([]WorkItem, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// Requeue increments the attempt count and pushes the target instant
	// forward for a retry.
	Requeue(ctx context.Context, id string, nextTarget time.Time, reason string) error
	// Defer moves the target instant without consuming an attempt, used when
	// constraints push work to a later slot.
	Defer(ctx context.Context, id string, nextTarget time.Time, reason string) error
	// MarkDispatched flags items as handed to the delivery collaborator.
	MarkDispatched(ctx context.Context, ids []string, at time.Time) error
	// ListStaleDispatched returns items stuck in dispatched state since
	// before cutoff, for offline-queue recovery.
	ListStaleDispatched(ctx context.Context, cutoff time.Time, limit int) ([]WorkItem, error)
	// MarkTerminal records a permanent failure exactly once.
	MarkTerminal(ctx context.Context, id string, reason string) (*WorkItem, error)
	// DeleteForUser removes all pending work for a user (profile deletion).
	DeleteForUser(ctx context.Context, userID string) (int, error)
	// ListTerminalBefore returns terminally failed items older than cutoff,
	// for archival by the maintenance sweep.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]WorkItem, error)
	// DeleteByIDs hard-deletes items after archival.
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// Evaluation is the constraint-evaluation contract consumed by the batching
// optimizer and the orchestrator.
type Evaluation interface {
	Evaluate(ctx context.Context, userID string, instant time.Time, priority WorkPriority) (*EvaluationResult, error)
}
