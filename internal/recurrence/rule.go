// Package recurrence computes occurrence dates for repeating tasks.
//
// The calculator is pure: no I/O, no clock access. Callers own all cursor
// and occurrence-count state; Next only answers "given this anchor, when is
// the following occurrence, if any".
package recurrence

import (
	"errors"
	"fmt"
	"time"
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

var (
	ErrUnknownFrequency      = errors.New("recurrence: unknown frequency")
	ErrInvalidInterval       = errors.New("recurrence: interval must be >= 1")
	ErrInvalidDayOfMonth     = errors.New("recurrence: day_of_month out of range")
	ErrInvalidDayOfWeek      = errors.New("recurrence: day_of_week out of range")
	ErrInvalidMaxOccurrences = errors.New("recurrence: max_occurrences must be >= 1")
	ErrDoublyBounded         = errors.New("recurrence: end_date and max_occurrences are mutually exclusive")
)

// Rule describes how a series repeats.
//
// At most one of EndDate/MaxOccurrences may bound the series; neither means
// unbounded. DaysOfWeek is carried for weekly rules but does not alter
// stepping: the interval advances in whole weeks from the anchor.
type Rule struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`

	// DaysOfWeek applies to weekly rules only (reserved input).
	// DayOfMonth applies to monthly rules only; 0 keeps the anchor's day.
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty"`

	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty"`
}

// Validate rejects malformed rules before they can reach the generator.
func (r Rule) Validate() error {
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFrequency, string(r.Frequency))
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, r.Interval)
	}
	if r.DayOfMonth < 0 || r.DayOfMonth > 31 {
		return fmt.Errorf("%w: got %d", ErrInvalidDayOfMonth, r.DayOfMonth)
	}
	for _, d := range r.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: got %d", ErrInvalidDayOfWeek, int(d))
		}
	}
	if r.MaxOccurrences < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxOccurrences, r.MaxOccurrences)
	}
	if r.EndDate != nil && r.MaxOccurrences > 0 {
		return ErrDoublyBounded
	}
	return nil
}

// Bounded reports whether the series has a termination condition.
func (r Rule) Bounded() bool {
	return r.EndDate != nil || r.MaxOccurrences > 0
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	cp := r
	if r.DaysOfWeek != nil {
		cp.DaysOfWeek = append([]time.Weekday(nil), r.DaysOfWeek...)
	}
	if r.EndDate != nil {
		v := *r.EndDate
		cp.EndDate = &v
	}
	return cp
}
