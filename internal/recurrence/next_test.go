package recurrence

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	t.Parallel()

	end := date(2024, time.January, 4)

	cases := []struct {
		name   string
		rule   Rule
		anchor time.Time
		want   time.Time
		wantOK bool
	}{
		{
			name:   "daily interval 1",
			rule:   Rule{Frequency: Daily, Interval: 1},
			anchor: date(2024, time.January, 1),
			want:   date(2024, time.January, 2),
			wantOK: true,
		},
		{
			name:   "daily interval 2",
			rule:   Rule{Frequency: Daily, Interval: 2},
			anchor: date(2024, time.January, 1),
			want:   date(2024, time.January, 3),
			wantOK: true,
		},
		{
			name:   "weekly interval 1",
			rule:   Rule{Frequency: Weekly, Interval: 1},
			anchor: date(2024, time.January, 1),
			want:   date(2024, time.January, 8),
			wantOK: true,
		},
		{
			name:   "weekly interval 2",
			rule:   Rule{Frequency: Weekly, Interval: 2},
			anchor: date(2024, time.January, 1),
			want:   date(2024, time.January, 15),
			wantOK: true,
		},
		{
			name:   "weekly ignores days of week for stepping",
			rule:   Rule{Frequency: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Friday}},
			anchor: date(2024, time.January, 1),
			want:   date(2024, time.January, 8),
			wantOK: true,
		},
		{
			name:   "monthly plain",
			rule:   Rule{Frequency: Monthly, Interval: 1},
			anchor: date(2024, time.March, 15),
			want:   date(2024, time.April, 15),
			wantOK: true,
		},
		{
			name:   "monthly from jan 31 clamps to leap february",
			rule:   Rule{Frequency: Monthly, Interval: 1},
			anchor: date(2024, time.January, 31),
			want:   date(2024, time.February, 29),
			wantOK: true,
		},
		{
			name:   "monthly from jan 31 clamps to short february",
			rule:   Rule{Frequency: Monthly, Interval: 1},
			anchor: date(2023, time.January, 31),
			want:   date(2023, time.February, 28),
			wantOK: true,
		},
		{
			name:   "monthly day of month 31 clamps in february",
			rule:   Rule{Frequency: Monthly, Interval: 1, DayOfMonth: 31},
			anchor: date(2024, time.January, 31),
			want:   date(2024, time.February, 29),
			wantOK: true,
		},
		{
			name:   "monthly day of month restores after short month",
			rule:   Rule{Frequency: Monthly, Interval: 1, DayOfMonth: 31},
			anchor: date(2024, time.February, 29),
			want:   date(2024, time.March, 31),
			wantOK: true,
		},
		{
			name:   "monthly interval 2 crosses year boundary",
			rule:   Rule{Frequency: Monthly, Interval: 2},
			anchor: date(2024, time.November, 15),
			want:   date(2025, time.January, 15),
			wantOK: true,
		},
		{
			name:   "yearly interval 1",
			rule:   Rule{Frequency: Yearly, Interval: 1},
			anchor: date(2024, time.June, 10),
			want:   date(2025, time.June, 10),
			wantOK: true,
		},
		{
			name:   "yearly from leap day clamps",
			rule:   Rule{Frequency: Yearly, Interval: 1},
			anchor: date(2024, time.February, 29),
			want:   date(2025, time.February, 28),
			wantOK: true,
		},
		{
			name:   "end date terminates",
			rule:   Rule{Frequency: Daily, Interval: 5, EndDate: &end},
			anchor: date(2024, time.January, 1),
			wantOK: false,
		},
		{
			name:   "end date equal to computed date still occurs",
			rule:   Rule{Frequency: Daily, Interval: 3, EndDate: &end},
			anchor: date(2024, time.January, 1),
			want:   date(2024, time.January, 4),
			wantOK: true,
		},
		{
			name:   "unknown frequency yields none",
			rule:   Rule{Frequency: "hourly", Interval: 1},
			anchor: date(2024, time.January, 1),
			wantOK: false,
		},
		{
			name:   "zero interval yields none",
			rule:   Rule{Frequency: Daily},
			anchor: date(2024, time.January, 1),
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Next(tc.rule, tc.anchor)
			if ok != tc.wantOK {
				t.Fatalf("Next() ok = %v, want %v (got %v)", ok, tc.wantOK, got)
			}
			if ok && !got.Equal(tc.want) {
				t.Fatalf("Next() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextPreservesClockTime(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2024, time.January, 31, 9, 30, 15, 0, time.UTC)
	got, ok := Next(Rule{Frequency: Monthly, Interval: 1}, anchor)
	if !ok {
		t.Fatal("Next() ok = false, want true")
	}
	want := time.Date(2024, time.February, 29, 9, 30, 15, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}
