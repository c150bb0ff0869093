package recurrence

import "time"

// Next computes the occurrence that follows anchor under the rule.
//
// ok=false signals series termination: either the computed date falls past
// the rule's EndDate, or the rule is malformed (unknown frequency,
// non-positive interval). Malformed input never panics so that a generator
// loop iterating many rules stays alive. MaxOccurrences is deliberately not
// checked here; it needs occurrence-count state the caller owns.
//
// Month and year steps that land on a short month clamp to the month's last
// day (Jan 31 + 1 month = Feb 29 in a leap year, Feb 28 otherwise). A
// monthly rule with DayOfMonth set forces that day, clamped the same way.
// The anchor's clock time and location are preserved.
func Next(r Rule, anchor time.Time) (time.Time, bool) {
	if r.Interval < 1 {
		return time.Time{}, false
	}

	var next time.Time
	switch r.Frequency {
	case Daily:
		next = anchor.AddDate(0, 0, r.Interval)
	case Weekly:
		next = anchor.AddDate(0, 0, 7*r.Interval)
	case Monthly:
		next = addMonths(anchor, r.Interval, r.DayOfMonth)
	case Yearly:
		next = addYears(anchor, r.Interval)
	default:
		return time.Time{}, false
	}

	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// addMonths advances by whole months without the day-overflow normalization
// time.AddDate applies. forceDay > 0 pins the day-of-month; either way the
// day is clamped to the target month's length.
func addMonths(t time.Time, months, forceDay int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	// Anchor the arithmetic on the first of the month so the month step
	// itself can never overflow.
	first := time.Date(y, m, 1, hh, mm, ss, t.Nanosecond(), t.Location())
	first = first.AddDate(0, months, 0)

	day := d
	if forceDay > 0 {
		day = forceDay
	}
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hh, mm, ss, t.Nanosecond(), t.Location())
}

func addYears(t time.Time, years int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	if last := daysInMonth(y+years, m); d > last {
		d = last
	}
	return time.Date(y+years, m, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// daysInMonth returns the number of days in the given month. Day zero of
// the following month normalizes to its last day.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
