package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestRuleValidate(t *testing.T) {
	t.Parallel()

	end := date(2025, time.January, 1)

	cases := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{"minimal daily", Rule{Frequency: Daily, Interval: 1}, nil},
		{"weekly with days", Rule{Frequency: Weekly, Interval: 2, DaysOfWeek: []time.Weekday{time.Monday, time.Friday}}, nil},
		{"monthly with day", Rule{Frequency: Monthly, Interval: 1, DayOfMonth: 31}, nil},
		{"bounded by end date", Rule{Frequency: Daily, Interval: 1, EndDate: &end}, nil},
		{"bounded by max occurrences", Rule{Frequency: Daily, Interval: 1, MaxOccurrences: 3}, nil},
		{"missing frequency", Rule{Interval: 1}, ErrUnknownFrequency},
		{"unknown frequency", Rule{Frequency: "fortnightly", Interval: 1}, ErrUnknownFrequency},
		{"zero interval", Rule{Frequency: Daily}, ErrInvalidInterval},
		{"negative interval", Rule{Frequency: Daily, Interval: -2}, ErrInvalidInterval},
		{"day of month too large", Rule{Frequency: Monthly, Interval: 1, DayOfMonth: 32}, ErrInvalidDayOfMonth},
		{"day of month negative", Rule{Frequency: Monthly, Interval: 1, DayOfMonth: -1}, ErrInvalidDayOfMonth},
		{"day of week out of range", Rule{Frequency: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{7}}, ErrInvalidDayOfWeek},
		{"negative max occurrences", Rule{Frequency: Daily, Interval: 1, MaxOccurrences: -1}, ErrInvalidMaxOccurrences},
		{"both bounds set", Rule{Frequency: Daily, Interval: 1, EndDate: &end, MaxOccurrences: 3}, ErrDoublyBounded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.rule.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestRuleClone(t *testing.T) {
	t.Parallel()

	end := date(2025, time.June, 1)
	orig := Rule{
		Frequency:  Weekly,
		Interval:   1,
		DaysOfWeek: []time.Weekday{time.Monday},
		EndDate:    &end,
	}

	cp := orig.Clone()
	cp.DaysOfWeek[0] = time.Sunday
	*cp.EndDate = date(2030, time.January, 1)

	if orig.DaysOfWeek[0] != time.Monday {
		t.Fatal("Clone shares DaysOfWeek backing array")
	}
	if !orig.EndDate.Equal(end) {
		t.Fatal("Clone shares EndDate pointer")
	}
}
