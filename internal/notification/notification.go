// Package notification defines the notification record and its delivery
// lifecycle. The record is storage-shaped: stores persist it as-is, and the
// dispatcher drives Status through conditional updates so that concurrent
// processors cannot double-deliver.
package notification

import (
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID        uuid.UUID
	Kind      Kind
	Recipient uuid.UUID

	Title   string
	Message string

	// Optional references back into the task domain.
	RelatedTask  *uuid.UUID
	RelatedActor *uuid.UUID

	// ScheduledFor is when the notification becomes due for dispatch.
	// Channels is the resolved delivery list; order is attempt order.
	ScheduledFor time.Time
	Channels     []Channel

	Status        Status
	FailureReason string
	CancelReason  string
	CancelledAt   *time.Time

	// Read state is recipient-facing and independent of delivery Status.
	Read   bool
	ReadAt *time.Time

	// Test marks records created by smoke flows so sweeps can target them.
	Test bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the notification should be picked up by a dispatch
// pass running at the given instant.
func (n *Notification) Due(at time.Time) bool {
	return n.Status == StatusPending && !n.ScheduledFor.After(at)
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate shared state.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Channels != nil {
		cp.Channels = append([]Channel(nil), n.Channels...)
	}
	if n.RelatedTask != nil {
		v := *n.RelatedTask
		cp.RelatedTask = &v
	}
	if n.RelatedActor != nil {
		v := *n.RelatedActor
		cp.RelatedActor = &v
	}
	if n.CancelledAt != nil {
		v := *n.CancelledAt
		cp.CancelledAt = &v
	}
	if n.ReadAt != nil {
		v := *n.ReadAt
		cp.ReadAt = &v
	}
	return &cp
}
