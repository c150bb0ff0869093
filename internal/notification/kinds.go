package notification

// Kind classifies what a notification is about. The set is closed; stores
// and preference records key off these values, so they never change meaning.
type Kind string

const (
	KindDueSoon        Kind = "due_soon"
	KindDueUrgent      Kind = "due_urgent"
	KindOverdue        Kind = "overdue"
	KindAssigned       Kind = "assigned"
	KindCompleted      Kind = "completed"
	KindUpdated        Kind = "updated"
	KindCustomReminder Kind = "custom_reminder"
)

// Kinds enumerates all kinds in stable order.
func Kinds() []Kind {
	return []Kind{
		KindDueSoon,
		KindDueUrgent,
		KindOverdue,
		KindAssigned,
		KindCompleted,
		KindUpdated,
		KindCustomReminder,
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindDueSoon, KindDueUrgent, KindOverdue, KindAssigned, KindCompleted, KindUpdated, KindCustomReminder:
		return true
	}
	return false
}

// DueRelative reports whether the kind is scheduled relative to a task due
// date (advance window applies) rather than at event time.
func (k Kind) DueRelative() bool {
	switch k {
	case KindDueSoon, KindDueUrgent, KindOverdue:
		return true
	}
	return false
}

// Channel is a delivery route for a notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelInApp    Channel = "in_app"
	ChannelPush     Channel = "push"
	ChannelTelegram Channel = "telegram"
)

// AllChannels enumerates all channels in stable order.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelInApp, ChannelPush, ChannelTelegram}
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelInApp, ChannelPush, ChannelTelegram:
		return true
	}
	return false
}

// Status is the delivery lifecycle state.
//
// pending is the only schedulable state. sent records at-least-one-channel
// success; delivered is an optional upgrade once local delivery is
// confirmed. failed and cancelled are terminal. The read flag is orthogonal
// and never constrained by Status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further status transition is allowed
// (delivered, failed, cancelled).
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle move:
//
//	pending -> sent | failed | cancelled
//	sent    -> delivered
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusFailed || to == StatusCancelled
	case StatusSent:
		return to == StatusDelivered
	}
	return false
}
