package storage

import (
	"errors"
	"time"

	"taskdue/internal/notification"
)

// ErrNotFound is returned when a record does not exist or is not visible
// to the caller (wrong recipient on an ownership-checked operation).
var ErrNotFound = errors.New("storage: not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (embedded, no external service)
//   - "memory": process-local backend, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StatusChange is the single conditional-update primitive for the
// notification lifecycle. The transition applies only when the record is
// currently in From; concurrent or repeated processors observe
// applied=false and skip. At stamps UpdatedAt (and CancelledAt for
// cancellations).
type StatusChange struct {
	From notification.Status
	To   notification.Status

	// FailureReason records per-channel failure summaries; it is set both
	// for failed outcomes and for partial failures on sent ones.
	FailureReason string
	CancelReason  string

	At time.Time
}

// ListQuery selects a page of a recipient's notifications, newest first.
type ListQuery struct {
	Page       int // 1-based; values < 1 mean first page
	Limit      int // per page; values < 1 fall back to a default
	UnreadOnly bool
	Kind       notification.Kind // empty means all kinds
}

const defaultListLimit = 20

// Normalize clamps paging values.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultListLimit
	}
	return q
}

// Offset returns the row offset for the normalized query.
func (q ListQuery) Offset() int {
	n := q.Normalize()
	return (n.Page - 1) * n.Limit
}
