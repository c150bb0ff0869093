package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	"taskdue/internal/preference"
	logx "taskdue/pkg/logx"
)

// ScheduleFromEvent resolves the recipient's preferences and persists a
// pending notification for the event. ErrSuppressed (with a nil record)
// means every channel was filtered out and nothing was created.
func (s *Service) ScheduleFromEvent(ctx context.Context, ev Event) (*notification.Notification, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(ev.Kind))
	}
	if ev.Recipient == uuid.Nil {
		return nil, ErrNoRecipient
	}

	prefs, err := s.Preferences(ctx, ev.Recipient)
	if err != nil {
		return nil, fmt.Errorf("resolve preferences: %w", err)
	}

	channels := preference.FilterChannels(prefs, ev.Kind, ev.Channels)
	if len(channels) == 0 {
		s.log.Debug("notification suppressed",
			logx.String("kind", string(ev.Kind)),
			logx.String("recipient", ev.Recipient.String()))
		return nil, ErrSuppressed
	}

	now := s.clk.Now()
	scheduledFor, err := scheduleTime(prefs, ev, now)
	if err != nil {
		return nil, err
	}

	n := &notification.Notification{
		ID:           uuid.New(),
		Kind:         ev.Kind,
		Recipient:    ev.Recipient,
		Title:        ev.Title,
		Message:      ev.Message,
		RelatedTask:  ev.TaskID,
		RelatedActor: ev.ActorID,
		ScheduledFor: scheduledFor,
		Channels:     channels,
		Status:       notification.StatusPending,
		Test:         ev.Test,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	s.publish(EventScheduled, LifecycleEvent{
		ID:        n.ID,
		Kind:      n.Kind,
		Recipient: n.Recipient,
		Status:    n.Status,
		Channels:  n.Channels,
		At:        now,
	})
	s.log.Debug("notification scheduled",
		logx.String("id", n.ID.String()),
		logx.String("kind", string(n.Kind)),
		logx.Time("scheduled_for", n.ScheduledFor),
		logx.Any("channels", n.Channels))
	return n, nil
}

// scheduleTime computes when the event's notification fires: the explicit
// At when given, due date minus the advance window for due-relative kinds,
// otherwise right away. A result inside the recipient's quiet hours shifts
// to the next window end.
func scheduleTime(prefs *preference.Preferences, ev Event, now time.Time) (time.Time, error) {
	at := now
	switch {
	case ev.At != nil:
		at = *ev.At
	case ev.Kind.DueRelative():
		if ev.DueDate == nil {
			return time.Time{}, ErrMissingDueDate
		}
		advance := time.Duration(preference.AdvanceHours(prefs, ev.Kind)) * time.Hour
		at = ev.DueDate.Add(-advance)
	}

	if preference.IsQuietTime(prefs, at) {
		at = preference.NextQuietEnd(prefs, at)
	}
	return at, nil
}
