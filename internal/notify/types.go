package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/notification"
)

var (
	// ErrSuppressed means preference filtering left no channel to deliver
	// on, so no record was created.
	ErrSuppressed = errors.New("notify: suppressed by preferences")

	ErrUnknownKind    = errors.New("notify: unknown notification kind")
	ErrNoRecipient    = errors.New("notify: event has no recipient")
	ErrMissingDueDate = errors.New("notify: due-relative event without a due date")

	// ErrNotCancellable rejects CancelForTask calls targeting kinds outside
	// the due-date reminder set.
	ErrNotCancellable = errors.New("notify: kind is not a cancellable due-date reminder")
)

// Event is a domain occurrence the scheduler may turn into a notification.
type Event struct {
	Kind      notification.Kind
	Recipient uuid.UUID

	Title   string
	Message string

	TaskID  *uuid.UUID
	ActorID *uuid.UUID

	// DueDate anchors due-relative kinds (due_soon, due_urgent, overdue).
	// At overrides the computed schedule outright (custom reminders).
	DueDate *time.Time
	At      *time.Time

	// Channels narrows the kind's allowed list; empty means the full list.
	Channels []notification.Channel

	Test bool
}

// Config tunes the dispatch pipeline. Zero values take defaults.
type Config struct {
	// Workers bounds concurrent notifications per dispatch pass.
	Workers int
	// BatchLimit caps records per pass; leftovers wait for the next tick.
	BatchLimit int
	// RatePerSec throttles outbound channel sends across the whole pass.
	RatePerSec int
	// SendTimeout bounds one channel attempt.
	SendTimeout time.Duration
	// RetentionAge is how long terminal records survive before the sweep
	// removes them.
	RetentionAge time.Duration
}

// ChannelAttempt is one channel's outcome within a dispatch.
type ChannelAttempt struct {
	Channel   notification.Channel
	OK        bool
	Delivered bool
	MessageID string
	Err       error
}

// DeliveryResult is one notification's dispatch outcome.
type DeliveryResult struct {
	ID     uuid.UUID
	Status notification.Status
	// Skipped means another processor advanced the record first; nothing
	// here was double-delivered.
	Skipped  bool
	Attempts []ChannelAttempt
	Err      error
}

// Bus event types published by the service. EventUserPing additionally
// goes out user-addressed so live sessions can refresh unread counts even
// when the in-app channel was not among the delivery targets.
const (
	EventScheduled = "notify.scheduled"
	EventSent      = "notify.sent"
	EventFailed    = "notify.failed"
	EventCancelled = "notify.cancelled"
	EventUserPing  = "notification.sent"
)

// LifecycleEvent is the payload on notify.* bus events. Single-record
// events carry ID and Kind; bulk cancellations carry TaskID and Count
// instead.
type LifecycleEvent struct {
	ID        uuid.UUID
	Kind      notification.Kind
	Recipient uuid.UUID
	Status    notification.Status
	Channels  []notification.Channel
	TaskID    *uuid.UUID
	Count     int
	Error     string
	At        time.Time
}
