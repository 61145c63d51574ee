// Package constraint implements the constraint evaluator: given a user and an
// instant, it decides whether scheduled work may proceed, and if not, computes
// a corrected instant under per-window fallback policies.
//
// Window matching is minute-resolution. Windows that cross midnight are
// matched by checking the occurrence anchored on the previous, current, and
// next day; buffers use the same midnight-safe arithmetic.
package constraint

import (
	"fmt"
	"time"

	"remindwell/internal/types"
)

// clockMinutes parses an "HH:MM" string into minutes since midnight.
// Window shapes are validated at creation time, so a parse failure here is a
// programming error surfaced as an error rather than a panic.
func clockMinutes(s string) (int, error) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return 0, fmt.Errorf("expected HH:MM format, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time out of range: %q", s)
	}
	return h*60 + m, nil
}

// occurrence is one concrete instance of a recurring window on a specific day,
// expanded by the window's buffer. Bounds are half-open: [start, end).
type occurrence struct {
	start time.Time // window start minus buffer
	end   time.Time // window end plus buffer
	// coreStart/coreEnd are the unbuffered bounds, used by fallback
	// candidate computation.
	coreStart time.Time
	coreEnd   time.Time
}

// occurrenceOn materializes the window occurrence anchored on the given day
// (midnight of that day in loc). Returns false when the window does not apply
// on that weekday.
func occurrenceOn(win types.TimeWindow, anchor time.Time, loc *time.Location) (occurrence, bool, error) {
	if !dayApplies(win.Days, anchor.Weekday()) {
		return occurrence{}, false, nil
	}

	startMin, err := clockMinutes(win.Start)
	if err != nil {
		return occurrence{}, false, err
	}
	endMin, err := clockMinutes(win.End)
	if err != nil {
		return occurrence{}, false, err
	}

	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc)
	coreStart := day.Add(time.Duration(startMin) * time.Minute)
	coreEnd := day.Add(time.Duration(endMin) * time.Minute)
	if endMin <= startMin {
		// Crosses midnight: the end lands on the following day.
		coreEnd = coreEnd.AddDate(0, 0, 1)
	}

	buf := time.Duration(win.BufferMinutes) * time.Minute
	return occurrence{
		start:     coreStart.Add(-buf),
		end:       coreEnd.Add(buf),
		coreStart: coreStart,
		coreEnd:   coreEnd,
	}, true, nil
}

// dayApplies checks whether the window applies on the given weekday.
// An empty day list matches every day. For windows that cross midnight the
// applicable day is the day the window starts.
func dayApplies(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

// matchWindow reports whether the instant falls inside the window or within
// its buffer, and returns the matched occurrence. Occurrences anchored on the
// previous day (overnight windows), the instant's day, and the next day
// (buffers reaching back across midnight) are all considered.
func matchWindow(win types.TimeWindow, instant time.Time, loc *time.Location) (occurrence, bool, error) {
	local := instant.In(loc)
	// Minute resolution: truncate seconds before comparison.
	local = local.Truncate(time.Minute)

	for _, dayOffset := range []int{-1, 0, 1} {
		anchor := local.AddDate(0, 0, dayOffset)
		occ, applies, err := occurrenceOn(win, anchor, loc)
		if err != nil {
			return occurrence{}, false, err
		}
		if !applies {
			continue
		}
		if !local.Before(occ.start) && local.Before(occ.end) {
			return occ, true, nil
		}
	}

	return occurrence{}, false, nil
}
