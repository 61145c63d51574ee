package constraint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"remindwell/internal/types"
)

// Compile-time assertion that Evaluator implements types.Evaluation.
var _ types.Evaluation = (*Evaluator)(nil)

// ProfileSource abstracts profile lookup for the evaluator. A missing profile
// is reported as (nil, nil), never an error: the evaluator fails open because
// blocking medication reminders by default is unsafe.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (*types.UserProfile, error)
}

// Config holds the evaluator tunables.
type Config struct {
	// MinLeadTime floor-clamps adjusted instants to now + this duration.
	MinLeadTime time.Duration

	// SearchHorizonSteps and SearchStep bound the forward search for the
	// next available slot. The original behavior steps hourly for 24 hours;
	// the stride is configurable for tightly packed constraint sets.
	SearchHorizonSteps int
	SearchStep         time.Duration
}

// DefaultConfig returns the standard evaluator tuning.
func DefaultConfig() Config {
	return Config{
		MinLeadTime:        15 * time.Minute,
		SearchHorizonSteps: 24,
		SearchStep:         time.Hour,
	}
}

// Evaluator decides whether an instant is permitted for a user under their
// active constraints, and computes corrections when it is not. It is safe for
// concurrent use; all state it reads is either immutable config or guarded by
// the profile source and cache.
type Evaluator struct {
	profiles ProfileSource
	cache    *resultCache
	clock    types.Clock
	cfg      Config
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator. A nil cache disables result caching.
func NewEvaluator(profiles ProfileSource, cache *resultCache, clock types.Clock, cfg Config, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SearchHorizonSteps <= 0 {
		cfg.SearchHorizonSteps = 24
	}
	if cfg.SearchStep <= 0 {
		cfg.SearchStep = time.Hour
	}
	return &Evaluator{
		profiles: profiles,
		cache:    cache,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// conflictMatch pairs a detected conflict with the window and occurrence that
// produced it, so fallback candidates can be computed.
type conflictMatch struct {
	constraint types.Constraint
	window     types.TimeWindow
	occ        occurrence
	blocking   bool
}

// Evaluate implements the evaluation contract. The instant must be a concrete
// point in time; priority critical marks work as life-critical and is never
// blocked, only annotated.
//
// Results are cached briefly keyed by (user, instant, priority); evaluating
// the same triple twice within the cache TTL returns an identical result.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, instant time.Time, priority types.WorkPriority) (*types.EvaluationResult, error) {
	if e.cache != nil {
		if res, ok := e.cache.get(userID, instant, priority); ok {
			return res, nil
		}
	}

	res, err := e.evaluate(ctx, userID, instant, priority)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.put(userID, instant, priority, res)
	}
	return res, nil
}

func (e *Evaluator) evaluate(ctx context.Context, userID string, instant time.Time, priority types.WorkPriority) (*types.EvaluationResult, error) {
	now := e.clock.Now()

	profile, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("evaluator: loading profile for %s: %w", userID, err)
	}
	if profile == nil {
		// Fail open: no profile means no constraints to enforce.
		e.logger.InfoContext(ctx, "no profile found, failing open",
			"user_id", userID,
		)
		return &types.EvaluationResult{
			CanProceed:      true,
			FailOpen:        true,
			Recommendations: []string{"no constraint profile registered for user; evaluation defaulted to permitted"},
			EvaluatedAt:     now,
		}, nil
	}

	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		// Timezones are validated at profile creation; treat corruption as
		// fail-open rather than blocking reminders.
		e.logger.WarnContext(ctx, "profile has invalid timezone, failing open",
			"user_id", userID,
			"timezone", profile.Timezone,
		)
		return &types.EvaluationResult{
			CanProceed:  true,
			FailOpen:    true,
			EvaluatedAt: now,
		}, nil
	}

	matches, err := e.conflictsAt(profile, instant, loc)
	if err != nil {
		return nil, fmt.Errorf("evaluator: matching windows for %s: %w", userID, err)
	}

	res := &types.EvaluationResult{
		CanProceed:  true,
		EvaluatedAt: now,
	}

	blocking := false
	for _, m := range matches {
		res.Conflicts = append(res.Conflicts, types.ConflictInfo{
			ConstraintID: m.constraint.ID,
			Category:     m.constraint.Category,
			Priority:     m.constraint.Priority,
			WindowStart:  m.window.Start,
			WindowEnd:    m.window.End,
			Blocking:     m.blocking,
		})
		if m.blocking {
			blocking = true
		}
	}

	// Life-critical work is never blocked and never moved, only annotated
	// for audit.
	if priority == types.WorkPriorityCritical {
		if blocking {
			res.Overridden = true
			res.Recommendations = append(res.Recommendations,
				"life-critical work overrides blocking constraints; conflicts recorded for audit")
		}
		return res, nil
	}

	// Compute the suggested adjustment: every conflicting window contributes
	// a candidate per its fallback policy; the latest candidate (most
	// conservative) wins regardless of stored order.
	if len(matches) > 0 {
		candidate, reason := e.bestAdjustment(profile, matches, instant, loc)
		if !candidate.IsZero() {
			// Floor-clamp so corrections never land in the past.
			floor := now.Add(e.cfg.MinLeadTime)
			if candidate.Before(floor) {
				candidate = floor
				reason = reason + " (clamped to minimum lead time)"
			}
			t := candidate
			res.SuggestedAt = &t
			res.SuggestedReason = reason
			if profile.Preferences.NotifyOnAdjustment {
				res.Recommendations = append(res.Recommendations,
					fmt.Sprintf("reminder moved to %s: %s", t.In(loc).Format("15:04"), reason))
			}
		}
	}

	if blocking {
		res.CanProceed = false
		if slot, ok := e.nextAvailableSlot(profile, instant, loc); ok {
			res.NextAvailableSlot = &slot
		} else {
			res.Recommendations = append(res.Recommendations,
				fmt.Sprintf("no permitted slot within %d steps of %s; escalation required",
					e.cfg.SearchHorizonSteps, e.cfg.SearchStep))
		}
	}

	return res, nil
}

// conflictsAt returns all window matches for the instant across the profile's
// active constraints, in stored order.
func (e *Evaluator) conflictsAt(profile *types.UserProfile, instant time.Time, loc *time.Location) ([]conflictMatch, error) {
	var matches []conflictMatch
	for _, c := range profile.ActiveConstraints(instant) {
		for _, w := range c.Windows {
			occ, hit, err := matchWindow(w, instant, loc)
			if err != nil {
				return nil, fmt.Errorf("constraint %s: %w", c.ID, err)
			}
			if !hit {
				continue
			}
			matches = append(matches, conflictMatch{
				constraint: c,
				window:     w,
				occ:        occ,
				blocking:   w.BlockEntirely || profile.Preferences.StrictMode,
			})
		}
	}
	return matches, nil
}

// bestAdjustment computes a candidate corrected instant for every conflict and
// keeps the latest one. Ties and input order do not affect the outcome: the
// comparison is purely on the candidate instant, with the reason following
// the winning candidate.
func (e *Evaluator) bestAdjustment(profile *types.UserProfile, matches []conflictMatch, instant time.Time, loc *time.Location) (time.Time, string) {
	var best time.Time
	var reason string

	for _, m := range matches {
		cand, why := e.candidateFor(profile, m, instant, loc)
		if cand.IsZero() {
			continue
		}
		if cand.After(best) {
			best = cand
			reason = why
		}
	}

	return best, reason
}

// candidateFor applies one window's fallback policy to produce a corrected
// instant.
func (e *Evaluator) candidateFor(profile *types.UserProfile, m conflictMatch, instant time.Time, loc *time.Location) (time.Time, string) {
	buf := time.Duration(m.window.BufferMinutes) * time.Minute

	switch m.window.Fallback {
	case types.FallbackDelay:
		cand := m.occ.coreEnd.Add(buf)
		return cand, fmt.Sprintf("delayed past %s window ending %s", m.constraint.Category, m.window.End)

	case types.FallbackAdvance:
		cand := m.occ.coreStart.Add(-buf)
		return cand, fmt.Sprintf("advanced before %s window starting %s", m.constraint.Category, m.window.Start)

	case types.FallbackSkipDay:
		cand := instant.In(loc).AddDate(0, 0, 1)
		return cand, fmt.Sprintf("skipped to the same time next day due to %s window", m.constraint.Category)

	case types.FallbackReschedule:
		if slot, ok := e.nextAvailableSlot(profile, instant, loc); ok {
			return slot, fmt.Sprintf("rescheduled to next open slot after %s window", m.constraint.Category)
		}
		// No open slot within the horizon: fall back to delaying past the
		// window rather than surfacing nothing.
		cand := m.occ.end
		return cand, fmt.Sprintf("no open slot within horizon; delayed past %s window", m.constraint.Category)

	default:
		// Unknown policies are rejected at creation time.
		return time.Time{}, ""
	}
}

// nextAvailableSlot searches forward from the instant in fixed steps for the
// first slot at which delivery would proceed, that is one with no blocking
// conflicts. Non-blocking windows only adjust timing and do not disqualify a
// slot. The search is bounded by the configured horizon; (zero, false) means
// callers must apply their own escalation.
func (e *Evaluator) nextAvailableSlot(profile *types.UserProfile, instant time.Time, loc *time.Location) (time.Time, bool) {
	for i := 1; i <= e.cfg.SearchHorizonSteps; i++ {
		probe := instant.Add(time.Duration(i) * e.cfg.SearchStep)
		matches, err := e.conflictsAt(profile, probe, loc)
		if err != nil {
			return time.Time{}, false
		}
		open := true
		for _, m := range matches {
			if m.blocking {
				open = false
				break
			}
		}
		if open {
			return probe, true
		}
	}
	return time.Time{}, false
}

// AffectedUsers filters the given user IDs down to those whose active
// constraints conflict with the instant. Users without profiles are fail-open
// and therefore never affected.
func (e *Evaluator) AffectedUsers(ctx context.Context, userIDs []string, instant time.Time) ([]string, error) {
	var affected []string
	for _, id := range userIDs {
		profile, err := e.profiles.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("evaluator: loading profile for %s: %w", id, err)
		}
		if profile == nil {
			continue
		}
		loc, err := time.LoadLocation(profile.Timezone)
		if err != nil {
			continue
		}
		matches, err := e.conflictsAt(profile, instant, loc)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			affected = append(affected, id)
		}
	}
	return affected, nil
}
