package preference

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskdue/internal/notification"
)

// ShouldNotify reports whether the recipient accepts the kind on the
// channel. False when globally disabled, the channel toggle is off, the
// kind is disabled, or the channel is not in the kind's allowed list.
func ShouldNotify(p *Preferences, kind notification.Kind, ch notification.Channel) bool {
	if p == nil || !p.Enabled {
		return false
	}
	if !p.Channels.On(ch) {
		return false
	}
	ks, ok := p.Kinds[kind]
	if !ok || !ks.Enabled {
		return false
	}
	for _, allowed := range ks.Channels {
		if allowed == ch {
			return true
		}
	}
	return false
}

// FilterChannels intersects the event's requested channels with what the
// recipient accepts for the kind. An empty request means "the kind's
// allowed list". An empty result means the notification is suppressed.
// Order follows the request; duplicates collapse.
func FilterChannels(p *Preferences, kind notification.Kind, requested []notification.Channel) []notification.Channel {
	if len(requested) == 0 {
		if p == nil {
			return nil
		}
		requested = p.Kinds[kind].Channels
	}

	var out []notification.Channel
	seen := make(map[notification.Channel]bool, len(requested))
	for _, ch := range requested {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		if ShouldNotify(p, kind, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// AdvanceHours returns how many hours before the due date the kind should
// fire. Zero for kinds without an advance window.
func AdvanceHours(p *Preferences, kind notification.Kind) int {
	if p == nil {
		return 0
	}
	ks, ok := p.Kinds[kind]
	if !ok {
		return 0
	}
	if ks.AdvanceHours < 0 {
		return 0
	}
	return ks.AdvanceHours
}

// IsQuietTime reports whether the instant falls inside the recipient's
// quiet-hours window, evaluated at minute granularity in the recipient's
// timezone. A window whose start is later than its end wraps past
// midnight: membership is t >= start OR t <= end. Otherwise membership is
// start <= t <= end.
func IsQuietTime(p *Preferences, at time.Time) bool {
	if p == nil || !p.Quiet.Configured() {
		return false
	}
	start, end := quietWindowMinutes(p.Quiet)

	local := at.In(p.Quiet.Location())
	minute := local.Hour()*60 + local.Minute()

	if start > end {
		return minute >= start || minute <= end
	}
	return minute >= start && minute <= end
}

// NextQuietEnd returns the first window-end instant strictly after t. When
// the same-day window end is not strictly later (t is at or past it), the
// end rolls to the following calendar day. Used to shift deliveries out of
// quiet hours without ever scheduling into the past.
func NextQuietEnd(p *Preferences, t time.Time) time.Time {
	if p == nil || !p.Quiet.Configured() {
		return t
	}
	endH, endM, _ := parseHHMM(p.Quiet.End)

	loc := p.Quiet.Location()
	local := t.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), endH, endM, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func quietWindowMinutes(q QuietHours) (start, end int) {
	sh, sm, _ := parseHHMM(q.Start)
	eh, em, _ := parseHHMM(q.End)
	return sh*60 + sm, eh*60 + em
}
