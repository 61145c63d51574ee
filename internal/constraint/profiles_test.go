package constraint

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindwell/internal/types"
)

// --- Test Doubles ---

// memStore implements types.ConstraintStore over a map.
type memStore struct {
	profiles map[string]*types.UserProfile
	err      error
}

func (m *memStore) UpsertProfile(_ context.Context, p *types.UserProfile) error {
	if m.err != nil {
		return m.err
	}
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *memStore) GetProfile(_ context.Context, userID string) (*types.UserProfile, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.profiles[userID], nil
}

func (m *memStore) DeleteProfile(_ context.Context, userID string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.profiles[userID]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	delete(m.profiles, userID)
	return nil
}

func (m *memStore) ListUserIDs(_ context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeWorkQueue struct {
	types.WorkQueue

	deletedFor []string
	removed    int
}

func (f *fakeWorkQueue) DeleteForUser(_ context.Context, userID string) (int, error) {
	f.deletedFor = append(f.deletedFor, userID)
	return f.removed, nil
}

type fakePrayerSource struct {
	times types.PrayerTimes
	err   error
	calls int
}

func (f *fakePrayerSource) GetTimesFor(_ context.Context, _ types.Location, _ time.Time) (types.PrayerTimes, error) {
	f.calls++
	return f.times, f.err
}

type fakeCalendar struct {
	active bool
	err    error
}

func (f *fakeCalendar) IsSpecialPeriodActive(_ context.Context, _ types.SpecialPeriodKind, _ time.Time) (bool, error) {
	return f.active, f.err
}

func newTestProfileSet(store types.ConstraintStore, work types.WorkQueue, prayer types.PrayerTimeSource, calendar types.CulturalCalendar, now time.Time) *ProfileSet {
	return NewProfileSet(ProfileSetConfig{
		Store:    store,
		Work:     work,
		Prayer:   prayer,
		Calendar: calendar,
		Clock:    &mockClock{now: now},
	})
}

func storedProfile(userID string, prayerEnabled bool) *types.UserProfile {
	return &types.UserProfile{
		UserID:   userID,
		Timezone: "UTC",
		Location: &types.Location{Lat: 24.7, Lon: 46.7},
		Constraints: []types.Constraint{
			{
				ID:       "con_manual",
				UserID:   userID,
				Category: types.CategoryQuietHours,
				Priority: types.PriorityHigh,
				IsActive: true,
				Windows: []types.TimeWindow{
					{Start: "22:00", End: "07:00", Fallback: types.FallbackDelay},
				},
			},
		},
		Preferences: types.UserPreferences{
			PrayerRemindersEnabled: prayerEnabled,
		},
	}
}

// --- CRUD Tests ---

func TestCreateOrUpdate_FillsConstraintIdentity(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{}}
	set := newTestProfileSet(store, nil, nil, nil, now)

	p := storedProfile("user_1", false)
	p.Constraints[0].ID = ""
	p.Constraints[0].UserID = ""

	stored, err := set.CreateOrUpdate(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Constraints[0].ID == "" {
		t.Error("constraint ID not generated")
	}
	if stored.Constraints[0].UserID != "user_1" {
		t.Errorf("constraint user ID = %q", stored.Constraints[0].UserID)
	}
	if !stored.CreatedAt.Equal(now) || !stored.UpdatedAt.Equal(now) {
		t.Errorf("timestamps not stamped: created=%v updated=%v", stored.CreatedAt, stored.UpdatedAt)
	}
	if store.profiles["user_1"] == nil {
		t.Error("profile not persisted")
	}
}

func TestCreateOrUpdate_RejectsInvalidProfile(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{}}
	set := newTestProfileSet(store, nil, nil, nil, now)

	p := storedProfile("user_1", false)
	p.Timezone = "Not/AZone"

	if _, err := set.CreateOrUpdate(context.Background(), p); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.profiles) != 0 {
		t.Error("invalid profile must not be persisted")
	}
}

func TestGet_ReadsThroughOnMiss(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{
		"user_1": storedProfile("user_1", false),
	}}
	set := newTestProfileSet(store, nil, nil, nil, now)

	p, err := set.Get(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.UserID != "user_1" {
		t.Fatalf("profile = %+v", p)
	}

	// Second read comes from the working set, not the store.
	store.err = errors.New("store offline")
	if _, err := set.Get(context.Background(), "user_1"); err != nil {
		t.Errorf("cached read should not hit the store: %v", err)
	}
}

func TestGet_MissingProfileIsNilNil(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	set := newTestProfileSet(&memStore{profiles: map[string]*types.UserProfile{}}, nil, nil, nil, now)

	p, err := set.Get(context.Background(), "user_unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil profile, got %+v", p)
	}
}

func TestDelete_CascadesToPendingWork(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{
		"user_1": storedProfile("user_1", false),
	}}
	work := &fakeWorkQueue{removed: 3}
	set := newTestProfileSet(store, work, nil, nil, now)

	removed, err := set.Delete(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if len(work.deletedFor) != 1 || work.deletedFor[0] != "user_1" {
		t.Errorf("work cascade = %v", work.deletedFor)
	}
	if store.profiles["user_1"] != nil {
		t.Error("profile still in store")
	}
}

func TestDelete_MissingProfile(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	set := newTestProfileSet(&memStore{profiles: map[string]*types.UserProfile{}}, nil, nil, nil, now)

	if _, err := set.Delete(context.Background(), "user_unknown"); err == nil {
		t.Fatal("expected not-found error")
	}
}

// --- Cultural Context Tests ---

func TestCulturalContext_DetectsCulturalConstraints(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p := storedProfile("user_1", false)
	p.Constraints = append(p.Constraints, types.Constraint{
		ID:       "con_prayer",
		UserID:   "user_1",
		Category: types.CategoryPrayerWindow,
		Priority: types.PriorityHigh,
		IsActive: true,
		Windows:  []types.TimeWindow{{Start: "05:00", End: "05:30", Fallback: types.FallbackDelay}},
	})
	p.Preferences.CulturalPriority = "high"
	store := &memStore{profiles: map[string]*types.UserProfile{"user_1": p}}
	set := newTestProfileSet(store, nil, nil, nil, now)

	has, high := set.CulturalContext(context.Background(), "user_1")
	if !has || !high {
		t.Errorf("(has, high) = (%v, %v), want (true, true)", has, high)
	}

	has, high = set.CulturalContext(context.Background(), "user_unknown")
	if has || high {
		t.Errorf("unknown user reported (%v, %v)", has, high)
	}
}

// --- Refresh Tests ---

func TestRefresh_GeneratesPrayerConstraint(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{
		"user_1": storedProfile("user_1", true),
	}}
	prayer := &fakePrayerSource{times: types.PrayerTimes{
		Date: now.Truncate(24 * time.Hour),
		Times: map[types.PrayerName]time.Time{
			types.PrayerFajr:    time.Date(2026, 3, 2, 5, 12, 0, 0, time.UTC),
			types.PrayerMaghrib: time.Date(2026, 3, 2, 18, 5, 0, 0, time.UTC),
		},
	}}
	set := newTestProfileSet(store, nil, prayer, &fakeCalendar{}, now)

	n, err := set.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("refreshed = %d, want 1", n)
	}

	p := store.profiles["user_1"]
	var prayerCon *types.Constraint
	for i := range p.Constraints {
		if p.Constraints[i].Category == types.CategoryPrayerWindow {
			prayerCon = &p.Constraints[i]
		}
	}
	if prayerCon == nil {
		t.Fatal("prayer constraint not generated")
	}
	if !prayerCon.AutoRefresh {
		t.Error("generated constraint must be auto-refresh")
	}
	if len(prayerCon.Windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(prayerCon.Windows))
	}
	if prayerCon.Windows[0].Start != "05:12" || prayerCon.Windows[0].End != "05:42" {
		t.Errorf("fajr window = %s-%s", prayerCon.Windows[0].Start, prayerCon.Windows[0].End)
	}

	// The manual constraint survives the refresh.
	found := false
	for _, c := range p.Constraints {
		if c.ID == "con_manual" {
			found = true
		}
	}
	if !found {
		t.Error("manual constraint dropped by refresh")
	}
}

func TestRefresh_RegeneratesInsteadOfAccumulating(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{
		"user_1": storedProfile("user_1", true),
	}}
	prayer := &fakePrayerSource{times: types.PrayerTimes{
		Times: map[types.PrayerName]time.Time{
			types.PrayerFajr: time.Date(2026, 3, 2, 5, 12, 0, 0, time.UTC),
		},
	}}
	set := newTestProfileSet(store, nil, prayer, &fakeCalendar{}, now)

	for i := 0; i < 3; i++ {
		if _, err := set.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}

	count := 0
	for _, c := range store.profiles["user_1"].Constraints {
		if c.Category == types.CategoryPrayerWindow {
			count++
		}
	}
	if count != 1 {
		t.Errorf("prayer constraints after repeated refresh = %d, want 1", count)
	}
}

func TestRefresh_FastingConstraintDuringActivePeriod(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{
		"user_1": storedProfile("user_1", false),
	}}
	set := newTestProfileSet(store, nil, nil, &fakeCalendar{active: true}, now)

	if _, err := set.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fasting *types.Constraint
	for i, c := range store.profiles["user_1"].Constraints {
		if c.Category == types.CategoryFastingPeriod {
			fasting = &store.profiles["user_1"].Constraints[i]
		}
	}
	if fasting == nil {
		t.Fatal("fasting constraint not generated")
	}
	if len(fasting.Windows) != 2 {
		t.Errorf("fasting windows = %d, want 2", len(fasting.Windows))
	}
	if !fasting.EffectiveUntil.Equal(fasting.EffectiveFrom.AddDate(0, 0, 1)) {
		t.Errorf("fasting constraint not day-scoped: %v to %v", fasting.EffectiveFrom, fasting.EffectiveUntil)
	}
}

func TestRefresh_UpstreamFailureDegradesPerUser(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := &memStore{profiles: map[string]*types.UserProfile{
		"user_1": storedProfile("user_1", true),
	}}
	prayer := &fakePrayerSource{err: errors.New("upstream down")}
	set := newTestProfileSet(store, nil, prayer, &fakeCalendar{}, now)

	n, err := set.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("refreshed = %d, want 1 (degraded, not failed)", n)
	}
	for _, c := range store.profiles["user_1"].Constraints {
		if c.Category == types.CategoryPrayerWindow {
			t.Error("prayer constraint generated despite upstream failure")
		}
	}
}

func TestRefresh_PrunesExpiredConstraints(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p := storedProfile("user_1", false)
	p.Constraints = append(p.Constraints, types.Constraint{
		ID:             "con_expired",
		UserID:         "user_1",
		Category:       types.CategoryCustom,
		Priority:       types.PriorityLow,
		EffectiveFrom:  now.AddDate(0, 0, -10),
		EffectiveUntil: now.AddDate(0, 0, -3),
		IsActive:       true,
		Windows:        []types.TimeWindow{{Start: "09:00", End: "10:00", Fallback: types.FallbackDelay}},
	})
	store := &memStore{profiles: map[string]*types.UserProfile{"user_1": p}}
	set := newTestProfileSet(store, nil, nil, &fakeCalendar{}, now)

	if _, err := set.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range store.profiles["user_1"].Constraints {
		if c.ID == "con_expired" {
			t.Error("expired constraint survived refresh")
		}
	}
}
