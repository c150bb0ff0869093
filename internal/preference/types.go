// Package preference holds per-recipient notification preferences and the
// pure resolver that gates channel fan-out and delivery timing.
//
// Records are normalized at construction: every kind has a settings entry
// and every entry has a non-empty channel list, so downstream code never
// branches on missing configuration.
package preference

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/notification"
)

// Preferences is one recipient's notification configuration. Created
// lazily on first access and never deleted.
type Preferences struct {
	UserID uuid.UUID

	// Enabled gates everything; individual toggles below refine it.
	Enabled  bool
	Channels ChannelToggles
	Kinds    map[notification.Kind]KindSetting
	Quiet    QuietHours

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChannelToggles enables or disables a channel across all kinds.
type ChannelToggles struct {
	Email    bool `json:"email"`
	InApp    bool `json:"in_app"`
	Push     bool `json:"push"`
	Telegram bool `json:"telegram"`
}

// On reports whether the channel is globally enabled for the recipient.
func (c ChannelToggles) On(ch notification.Channel) bool {
	switch ch {
	case notification.ChannelEmail:
		return c.Email
	case notification.ChannelInApp:
		return c.InApp
	case notification.ChannelPush:
		return c.Push
	case notification.ChannelTelegram:
		return c.Telegram
	}
	return false
}

// KindSetting configures one notification kind. AdvanceHours is only
// meaningful for due_soon and due_urgent.
type KindSetting struct {
	Enabled      bool                   `json:"enabled"`
	Channels     []notification.Channel `json:"channels"`
	AdvanceHours int                    `json:"advance_hours,omitempty"`
}

// QuietHours is a daily do-not-disturb window in the recipient's timezone.
// Start and End are "HH:MM"; Start > End wraps past midnight (22:00-08:00).
// Both empty means no quiet hours.
type QuietHours struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Configured reports whether a usable window is set.
func (q QuietHours) Configured() bool {
	if q.Start == "" || q.End == "" {
		return false
	}
	if _, _, err := parseHHMM(q.Start); err != nil {
		return false
	}
	if _, _, err := parseHHMM(q.End); err != nil {
		return false
	}
	return true
}

// Location resolves the recipient's timezone, falling back to UTC on an
// empty or unknown name.
func (q QuietHours) Location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects half-set or malformed windows on explicit updates.
// Resolution stays lenient (Configured just answers false); this is for
// surfacing mistakes to the caller instead of silently ignoring them.
func (q QuietHours) Validate() error {
	if q.Start == "" && q.End == "" {
		return nil
	}
	if q.Start == "" || q.End == "" {
		return errors.New("preference: quiet hours need both start and end")
	}
	if _, _, err := parseHHMM(q.Start); err != nil {
		return fmt.Errorf("preference: quiet start: %w", err)
	}
	if _, _, err := parseHHMM(q.End); err != nil {
		return fmt.Errorf("preference: quiet end: %w", err)
	}
	if q.Timezone != "" {
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return fmt.Errorf("preference: quiet timezone: %w", err)
		}
	}
	return nil
}

const (
	defaultDueSoonAdvanceHours   = 24
	defaultDueUrgentAdvanceHours = 6
)

func defaultKindSetting(k notification.Kind) KindSetting {
	switch k {
	case notification.KindDueSoon:
		return KindSetting{
			Enabled:      true,
			Channels:     []notification.Channel{notification.ChannelInApp, notification.ChannelEmail},
			AdvanceHours: defaultDueSoonAdvanceHours,
		}
	case notification.KindDueUrgent:
		return KindSetting{
			Enabled:      true,
			Channels:     []notification.Channel{notification.ChannelInApp, notification.ChannelEmail, notification.ChannelPush},
			AdvanceHours: defaultDueUrgentAdvanceHours,
		}
	case notification.KindOverdue, notification.KindAssigned, notification.KindCustomReminder:
		return KindSetting{
			Enabled:  true,
			Channels: []notification.Channel{notification.ChannelInApp, notification.ChannelEmail},
		}
	default:
		// completed, updated: in-app only by default.
		return KindSetting{
			Enabled:  true,
			Channels: []notification.Channel{notification.ChannelInApp},
		}
	}
}

// Default returns the preferences a recipient gets before ever touching
// settings: everything on except telegram, no quiet hours.
func Default(userID uuid.UUID) *Preferences {
	p := &Preferences{
		UserID:  userID,
		Enabled: true,
		Channels: ChannelToggles{
			Email: true,
			InApp: true,
			Push:  true,
		},
		Kinds: make(map[notification.Kind]KindSetting, len(notification.Kinds())),
	}
	p.Normalize()
	return p
}

// Normalize repairs a record in place so the invariants hold: the kind map
// exists, every enumerated kind is present, unknown kinds and channels are
// dropped, empty channel lists fall back to kind defaults, and the due
// kinds carry a positive advance window.
func (p *Preferences) Normalize() {
	if p.Kinds == nil {
		p.Kinds = make(map[notification.Kind]KindSetting, len(notification.Kinds()))
	}
	for k := range p.Kinds {
		if !k.Valid() {
			delete(p.Kinds, k)
		}
	}
	for _, k := range notification.Kinds() {
		ks, ok := p.Kinds[k]
		if !ok {
			p.Kinds[k] = defaultKindSetting(k)
			continue
		}
		ks.Channels = validChannels(ks.Channels)
		if len(ks.Channels) == 0 {
			ks.Channels = defaultKindSetting(k).Channels
		}
		if ks.AdvanceHours <= 0 {
			ks.AdvanceHours = defaultKindSetting(k).AdvanceHours
		}
		p.Kinds[k] = ks
	}
}

func validChannels(in []notification.Channel) []notification.Channel {
	out := in[:0:len(in)]
	for _, ch := range in {
		if ch.Valid() {
			out = append(out, ch)
		}
	}
	return out
}

// Clone returns a deep copy so stores can hand records out safely.
func (p *Preferences) Clone() *Preferences {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Kinds = make(map[notification.Kind]KindSetting, len(p.Kinds))
	for k, ks := range p.Kinds {
		ks.Channels = append([]notification.Channel(nil), ks.Channels...)
		cp.Kinds[k] = ks
	}
	return &cp
}
