package scheduler

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time-of-day with second resolution, used
// for BackgroundSchedule's sync_window_start/end.
type TimeOfDay struct {
	Hour, Min, Sec int
}

// ParseTimeOfDay parses "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &t.Hour, &t.Min, &t.Sec); err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time-of-day %q: %w", s, err)
	}
	return t, nil
}

func (t TimeOfDay) secondsSinceMidnight() int {
	return t.Hour*3600 + t.Min*60 + t.Sec
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Min, t.Sec)
}

// InWindow implements spec.md §4.8's overnight-aware window predicate:
// for start > end (overnight window), now is in-window when
// now >= start OR now <= end; otherwise the ordinary now in [start, end].
func InWindow(now time.Time, start, end TimeOfDay) bool {
	nowSecs := now.Hour()*3600 + now.Minute()*60 + now.Second()
	startSecs, endSecs := start.secondsSinceMidnight(), end.secondsSinceMidnight()

	if startSecs > endSecs {
		return nowSecs >= startSecs || nowSecs <= endSecs
	}
	return nowSecs >= startSecs && nowSecs <= endSecs
}

// NextDailyFire returns the next instant at-or-after `after` whose
// wall-clock time matches start, advancing a day if `after` is already
// past today's occurrence.
func NextDailyFire(after time.Time, start TimeOfDay) time.Time {
	candidate := time.Date(after.Year(), after.Month(), after.Day(), start.Hour, start.Min, start.Sec, 0, after.Location())
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
