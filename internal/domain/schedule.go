package domain

import "time"

// Defaults applied when a weekly rule carries no day-of-week or a monthly rule
// no day-of-month. Deliberate product behavior, not a fallthrough: weekly
// rules fall back to Monday, monthly rules to the 1st.
const (
	defaultDayOfWeek  = 1
	defaultDayOfMonth = 1
)

// NextExecution computes the next instant a rule with the given cadence fires,
// strictly after now. The boundary instant itself counts as "not yet due" and
// is advanced a full period; due-ness is decided by FindDue with a half-open
// comparison. The calculation uses now's location, so the configured hour is
// a wall-clock hour even across DST shifts.
func NextExecution(freq Frequency, hourOfDay int, dayOfWeek, dayOfMonth *int, now time.Time) (time.Time, error) {
	if hourOfDay < 0 || hourOfDay > 23 {
		return time.Time{}, ErrInvalidSchedule
	}

	loc := now.Location()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hourOfDay, 0, 0, 0, loc)

	switch freq {
	case FrequencyDaily:
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil

	case FrequencyWeekly:
		target := defaultDayOfWeek
		if dayOfWeek != nil {
			target = *dayOfWeek
		}
		if target < 0 || target > 6 {
			return time.Time{}, ErrInvalidSchedule
		}
		diff := target - int(now.Weekday())
		if diff < 0 || (diff == 0 && !candidate.After(now)) {
			diff += 7
		}
		return candidate.AddDate(0, 0, diff), nil

	case FrequencyMonthly:
		target := defaultDayOfMonth
		if dayOfMonth != nil {
			target = *dayOfMonth
		}
		if target < 1 || target > 31 {
			return time.Time{}, ErrInvalidSchedule
		}
		// Clamp to the last day of the target month so day 31 fires on
		// Feb 28 instead of rolling into March.
		candidate = monthlyCandidate(now.Year(), now.Month(), target, hourOfDay, loc)
		if !candidate.After(now) {
			candidate = monthlyCandidate(now.Year(), now.Month()+1, target, hourOfDay, loc)
		}
		return candidate, nil
	}

	return time.Time{}, ErrInvalidSchedule
}

func monthlyCandidate(year int, month time.Month, day, hour int, loc *time.Location) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, 0, 0, 0, loc)
}

// daysInMonth relies on time.Date normalizing day 0 to the last day of the
// previous month. Accepts month values outside [1,12], as time.Date does.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FindDue returns the active rules whose next execution instant has arrived
// or passed. Pure filter: the input is not mutated and the result preserves
// insertion order.
func FindDue(rules []Rule, now time.Time) []Rule {
	due := make([]Rule, 0)
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if !r.NextExecutionAt.After(now) {
			due = append(due, r)
		}
	}
	return due
}
