package types

import (
	"fmt"
	"time"
)

// validClockTime reports whether s is a valid "HH:MM" wall-clock string.
func validClockTime(s string) bool {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return false
	}
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}

// Validate checks a TimeWindow's shape. Configuration errors are rejected at
// constraint-creation time and never reach evaluation.
func (w *TimeWindow) Validate() error {
	if !validClockTime(w.Start) {
		return NewAppError(ErrCodeValidationTimeWindow,
			fmt.Sprintf("invalid window start %q, expected HH:MM", w.Start), nil)
	}
	if !validClockTime(w.End) {
		return NewAppError(ErrCodeValidationTimeWindow,
			fmt.Sprintf("invalid window end %q, expected HH:MM", w.End), nil)
	}
	if w.Start == w.End {
		return NewAppError(ErrCodeValidationTimeWindow,
			"window start and end must differ", nil)
	}
	if w.BufferMinutes < 0 {
		return NewAppError(ErrCodeValidationTimeWindow,
			"buffer minutes must not be negative", nil)
	}
	switch w.Fallback {
	case FallbackDelay, FallbackAdvance, FallbackSkipDay, FallbackReschedule:
	default:
		return NewAppError(ErrCodeValidationFallback,
			fmt.Sprintf("unknown fallback policy %q", w.Fallback), nil)
	}
	for _, d := range w.Days {
		if d < time.Sunday || d > time.Saturday {
			return NewAppError(ErrCodeValidationTimeWindow,
				fmt.Sprintf("invalid weekday %d", d), nil)
		}
	}
	return nil
}

// Validate checks a Constraint's shape, including all of its windows.
func (c *Constraint) Validate() error {
	switch c.Category {
	case CategoryPrayerWindow, CategoryFastingPeriod, CategoryQuietHours, CategoryMealTime, CategoryCustom:
	default:
		return NewAppError(ErrCodeValidationCategory,
			fmt.Sprintf("unknown constraint category %q", c.Category), nil)
	}
	switch c.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return NewAppError(ErrCodeValidationMissingField,
			fmt.Sprintf("unknown constraint priority %q", c.Priority), nil)
	}
	if len(c.Windows) == 0 {
		return NewAppError(ErrCodeValidationMissingField,
			"constraint requires at least one time window", nil)
	}
	if !c.EffectiveUntil.IsZero() && !c.EffectiveUntil.After(c.EffectiveFrom) {
		return NewAppError(ErrCodeValidationEffectiveRange,
			"effective_until must be after effective_from", nil)
	}
	for i := range c.Windows {
		if err := c.Windows[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a UserProfile, including timezone resolution and every
// constraint it carries.
func (p *UserProfile) Validate() error {
	if p.UserID == "" {
		return NewAppError(ErrCodeValidationMissingField, "user_id is required", nil)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return NewAppError(ErrCodeValidationTimezone,
			fmt.Sprintf("invalid timezone %q", p.Timezone), err)
	}
	for i := range p.Constraints {
		if err := p.Constraints[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks an inbound WorkItem before it is enqueued.
func (w *WorkItem) Validate() error {
	if w.UserID == "" {
		return NewAppError(ErrCodeValidationWorkItem, "user_id is required", nil)
	}
	if w.TargetAt.IsZero() {
		return NewAppError(ErrCodeValidationWorkItem, "target_at is required", nil)
	}
	if w.PayloadRef == "" {
		return NewAppError(ErrCodeValidationWorkItem, "payload_ref is required", nil)
	}
	if len(w.Methods) == 0 {
		return NewAppError(ErrCodeValidationWorkItem, "at least one delivery method is required", nil)
	}
	for _, m := range w.Methods {
		switch m {
		case MethodPush, MethodSMS, MethodEmail, MethodVoice:
		default:
			return NewAppError(ErrCodeValidationWorkItem,
				fmt.Sprintf("unknown delivery method %q", m), nil)
		}
	}
	switch w.Priority {
	case WorkPriorityLow, WorkPriorityNormal, WorkPriorityHigh, WorkPriorityCritical:
	default:
		return NewAppError(ErrCodeValidationWorkItem,
			fmt.Sprintf("unknown work priority %q", w.Priority), nil)
	}
	if w.MaxAttempts < 1 {
		return NewAppError(ErrCodeValidationWorkItem, "max_attempts must be at least 1", nil)
	}
	return nil
}
