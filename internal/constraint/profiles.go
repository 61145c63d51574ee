package constraint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindwell/internal/types"
)

// Compile-time assertion that ProfileSet implements ProfileSource.
var _ ProfileSource = (*ProfileSet)(nil)

// prayerWindowMinutes is the default width of a generated prayer window,
// measured from the prayer instant.
const prayerWindowMinutes = 30

// fastingConstraintID builds the stable identifier for the auto-generated
// fasting constraint so refreshes upsert rather than accumulate.
func fastingConstraintID(userID string) string { return "con_fasting_" + userID }

// prayerConstraintID builds the stable identifier for the auto-generated
// prayer constraint.
func prayerConstraintID(userID string) string { return "con_prayer_" + userID }

// ProfileSet is the orchestrator's working set of user constraint profiles.
// It is a read-through mirror of the constraint store: reads tolerate
// concurrent access from multiple job executions, while mutation of a single
// user's profile takes that user's lock only, so unrelated users are never
// serialized against each other.
type ProfileSet struct {
	store    types.ConstraintStore
	work     types.WorkQueue
	cache    *resultCache
	prayer   types.PrayerTimeSource
	calendar types.CulturalCalendar
	clock    types.Clock
	logger   *slog.Logger

	mu       sync.RWMutex
	profiles map[string]*types.UserProfile

	// userLocks serializes mutations per user. Entries are never removed;
	// the set of users is small relative to the lock footprint.
	userLocks sync.Map // userID -> *sync.Mutex
}

// ProfileSetConfig holds the collaborators for a ProfileSet.
type ProfileSetConfig struct {
	Store    types.ConstraintStore
	Work     types.WorkQueue
	Cache    *resultCache
	Prayer   types.PrayerTimeSource
	Calendar types.CulturalCalendar
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewProfileSet creates a ProfileSet backed by the given store.
func NewProfileSet(cfg ProfileSetConfig) *ProfileSet {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ProfileSet{
		store:    cfg.Store,
		work:     cfg.Work,
		cache:    cfg.Cache,
		prayer:   cfg.Prayer,
		calendar: cfg.Calendar,
		clock:    clock,
		logger:   logger,
		profiles: make(map[string]*types.UserProfile),
	}
}

func (s *ProfileSet) lockFor(userID string) *sync.Mutex {
	l, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Get returns the profile for a user, reading through to the store on a
// working-set miss. A missing profile is (nil, nil) so the evaluator can
// fail open.
func (s *ProfileSet) Get(ctx context.Context, userID string) (*types.UserProfile, error) {
	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profiles: loading %s from store: %w", userID, err)
	}
	if p == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.profiles[userID] = p
	s.mu.Unlock()
	return p, nil
}

// CulturalContext reports whether the user's profile carries culturally
// significant constraints (prayer windows, fasting periods) and whether the
// user weighs them as high priority. Unknown users report neither.
func (s *ProfileSet) CulturalContext(ctx context.Context, userID string) (bool, bool) {
	p, err := s.Get(ctx, userID)
	if err != nil || p == nil {
		return false, false
	}
	hasCultural := false
	for _, c := range p.Constraints {
		if !c.IsActive {
			continue
		}
		if c.Category == types.CategoryPrayerWindow || c.Category == types.CategoryFastingPeriod {
			hasCultural = true
			break
		}
	}
	return hasCultural, p.Preferences.CulturalPriority == "high"
}

// CreateOrUpdate validates and persists a profile, replacing the user's
// entry in the working set. Profiles are constructed fully and then
// published; partial mutation is never observable outside this call.
func (s *ProfileSet) CreateOrUpdate(ctx context.Context, profile *types.UserProfile) (*types.UserProfile, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	lock := s.lockFor(profile.UserID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	for i := range profile.Constraints {
		if profile.Constraints[i].ID == "" {
			profile.Constraints[i].ID = "con_" + uuid.New().String()
		}
		if profile.Constraints[i].UserID == "" {
			profile.Constraints[i].UserID = profile.UserID
		}
	}

	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("profiles: upserting %s: %w", profile.UserID, err)
	}

	s.mu.Lock()
	s.profiles[profile.UserID] = profile
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.InvalidateUser(profile.UserID)
	}

	s.logger.InfoContext(ctx, "profile upserted",
		"user_id", profile.UserID,
		"constraints", len(profile.Constraints),
	)
	return profile, nil
}

// Delete removes a user's profile, discards any cached evaluation results,
// and synchronously removes the user's pending work so the next delivery
// cycle never sees it. Returns the number of work items removed.
func (s *ProfileSet) Delete(ctx context.Context, userID string) (int, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.DeleteProfile(ctx, userID); err != nil {
		return 0, fmt.Errorf("profiles: deleting %s: %w", userID, err)
	}

	s.mu.Lock()
	delete(s.profiles, userID)
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.InvalidateUser(userID)
	}

	removed := 0
	if s.work != nil {
		n, err := s.work.DeleteForUser(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("profiles: removing pending work for %s: %w", userID, err)
		}
		removed = n
	}

	s.logger.InfoContext(ctx, "profile deleted",
		"user_id", userID,
		"pending_work_removed", removed,
	)
	return removed, nil
}

// UserIDs returns the IDs of all stored profiles.
func (s *ProfileSet) UserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("profiles: listing users: %w", err)
	}
	return ids, nil
}

// Refresh regenerates auto-refresh constraints from upstream data and prunes
// stale expired ones for every stored profile. Upstream failures degrade to
// "no refreshed constraints this cycle" for the affected user; other users
// still refresh. Returns the number of profiles refreshed.
func (s *ProfileSet) Refresh(ctx context.Context) (int, error) {
	ids, err := s.UserIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	refreshed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if err := s.refreshUser(ctx, id, now); err != nil {
			s.logger.WarnContext(ctx, "profile refresh failed",
				"user_id", id,
				"error", err,
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (s *ProfileSet) refreshUser(ctx context.Context, userID string, now time.Time) error {
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}

	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", profile.Timezone, err)
	}

	// Build the replacement constraint list: keep everything that is neither
	// expired nor auto-refreshed, then regenerate the auto-refresh set.
	kept := make([]types.Constraint, 0, len(profile.Constraints))
	for _, c := range profile.Constraints {
		if !c.EffectiveUntil.IsZero() && !now.Before(c.EffectiveUntil) {
			continue // prune stale expired constraints
		}
		if c.AutoRefresh {
			continue // regenerated below
		}
		kept = append(kept, c)
	}

	if s.prayer != nil && profile.Preferences.PrayerRemindersEnabled && profile.Location != nil {
		times, err := s.prayer.GetTimesFor(ctx, *profile.Location, now.In(loc))
		if err != nil {
			// Degrade: no prayer constraints this cycle.
			s.logger.WarnContext(ctx, "prayer source unavailable, skipping prayer constraints",
				"user_id", userID,
				"error", err,
			)
		} else if c := s.prayerConstraint(profile, times, now, loc); c != nil {
			kept = append(kept, *c)
		}
	}

	if s.calendar != nil {
		active, err := s.calendar.IsSpecialPeriodActive(ctx, types.PeriodRamadan, now.In(loc))
		if err != nil {
			s.logger.WarnContext(ctx, "cultural calendar unavailable",
				"user_id", userID,
				"error", err,
			)
		} else if active {
			kept = append(kept, s.fastingConstraint(profile, now, loc))
		}
	}

	updated := *profile
	updated.Constraints = kept
	updated.UpdatedAt = now
	if err := s.store.UpsertProfile(ctx, &updated); err != nil {
		return fmt.Errorf("upserting refreshed profile: %w", err)
	}

	s.mu.Lock()
	s.profiles[userID] = &updated
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.InvalidateUser(userID)
	}
	return nil
}

// prayerConstraint converts the day's prayer instants into a daily constraint
// with one window per prayer, valid until end of day in the user's timezone.
func (s *ProfileSet) prayerConstraint(profile *types.UserProfile, times types.PrayerTimes, now time.Time, loc *time.Location) *types.Constraint {
	sorted := times.Sorted()
	if len(sorted) == 0 {
		return nil
	}

	buffer := profile.Preferences.DefaultBufferMinutes
	fallback := profile.Preferences.PreferredFallback
	if fallback == "" {
		fallback = types.FallbackDelay
	}

	windows := make([]types.TimeWindow, 0, len(sorted))
	for _, t := range sorted {
		start := t.In(loc)
		end := start.Add(prayerWindowMinutes * time.Minute)
		windows = append(windows, types.TimeWindow{
			Start:         start.Format("15:04"),
			End:           end.Format("15:04"),
			BufferMinutes: buffer,
			Fallback:      fallback,
		})
	}

	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return &types.Constraint{
		ID:             prayerConstraintID(profile.UserID),
		UserID:         profile.UserID,
		Category:       types.CategoryPrayerWindow,
		Priority:       types.PriorityHigh,
		EffectiveFrom:  dayStart,
		EffectiveUntil: dayStart.AddDate(0, 0, 1),
		IsActive:       true,
		Windows:        windows,
		Source:         types.SourceUpstream,
		Confidence:     1.0,
		AutoRefresh:    true,
		UpdatedAt:      now,
	}
}

// fastingConstraint marks the pre-dawn and sunset meal windows during an
// active fasting period so reminders steer clear of them.
func (s *ProfileSet) fastingConstraint(profile *types.UserProfile, now time.Time, loc *time.Location) types.Constraint {
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return types.Constraint{
		ID:             fastingConstraintID(profile.UserID),
		UserID:         profile.UserID,
		Category:       types.CategoryFastingPeriod,
		Priority:       types.PriorityMedium,
		EffectiveFrom:  dayStart,
		EffectiveUntil: dayStart.AddDate(0, 0, 1),
		IsActive:       true,
		Windows: []types.TimeWindow{
			{Start: "04:00", End: "05:00", BufferMinutes: 15, Fallback: types.FallbackDelay},
			{Start: "18:00", End: "19:30", BufferMinutes: 15, Fallback: types.FallbackDelay},
		},
		Source:      types.SourceUpstream,
		Confidence:  0.9,
		AutoRefresh: true,
		UpdatedAt:   now,
	}
}
