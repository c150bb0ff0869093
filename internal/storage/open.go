package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	"taskdue/internal/preference"
	"taskdue/internal/task"
	logx "taskdue/pkg/logx"
)

// NotificationStore persists notification records. All mutations of Status
// go through UpdateNotificationStatus or CancelForTask so they stay
// conditional; there is no unconditional status write.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *notification.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*notification.Notification, error)

	// ListDueNotifications returns pending records whose ScheduledFor has
	// passed, oldest first. limit <= 0 means no limit.
	ListDueNotifications(ctx context.Context, asOf time.Time, limit int) ([]*notification.Notification, error)

	// UpdateNotificationStatus applies ch when the record currently holds
	// ch.From. applied=false means another processor got there first (or
	// the record is gone).
	UpdateNotificationStatus(ctx context.Context, id uuid.UUID, ch StatusChange) (applied bool, err error)

	// CancelForTask bulk-cancels pending notifications of the given kinds
	// that reference the task. Returns how many records transitioned.
	CancelForTask(ctx context.Context, taskID uuid.UUID, kinds []notification.Kind, reason string, at time.Time) (int, error)

	// ListNotifications pages a recipient's notifications, newest first,
	// and reports the total matching count.
	ListNotifications(ctx context.Context, recipient uuid.UUID, q ListQuery) ([]*notification.Notification, int, error)
	CountUnread(ctx context.Context, recipient uuid.UUID) (int, error)

	// MarkRead is ownership-checked: ErrNotFound when the id does not
	// exist or belongs to a different recipient.
	MarkRead(ctx context.Context, id, recipient uuid.UUID, at time.Time) error
	MarkAllRead(ctx context.Context, recipient uuid.UUID, at time.Time) (int, error)

	// PurgeTerminal deletes terminal-status records last touched before
	// the cutoff. Returns how many rows were removed.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error)
}

// PreferenceStore persists per-recipient notification preferences.
type PreferenceStore interface {
	// GetPreferences returns ErrNotFound when the recipient has no record
	// yet; callers layer get-or-create on top.
	GetPreferences(ctx context.Context, userID uuid.UUID) (*preference.Preferences, error)
	PutPreferences(ctx context.Context, p *preference.Preferences) error
}

// TaskStore persists task records (instances included).
type TaskStore interface {
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error

	// ListOverdueTasks returns open, non-deleted tasks with a due date
	// strictly before asOf. limit <= 0 means no limit.
	ListOverdueTasks(ctx context.Context, asOf time.Time, limit int) ([]*task.Task, error)
}

// DefinitionStore persists recurring definitions.
type DefinitionStore interface {
	CreateDefinition(ctx context.Context, d *task.Definition) error
	GetDefinition(ctx context.Context, id uuid.UUID) (*task.Definition, error)
	UpdateDefinition(ctx context.Context, d *task.Definition) error

	// ListDueDefinitions returns active, non-deleted definitions whose
	// cursor has passed. Occurrence-budget exhaustion is re-checked by the
	// caller. limit <= 0 means no limit.
	ListDueDefinitions(ctx context.Context, asOf time.Time, limit int) ([]*task.Definition, error)
}

// DedupStore holds short-lived idempotency keys (once-per-day guards).
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	PruneDedup(ctx context.Context, asOf time.Time) (int, error)
}

// Store is the full persistence API used by the scheduling core.
type Store interface {
	NotificationStore
	PreferenceStore
	TaskStore
	DefinitionStore
	DedupStore
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	case "":
		return nil, errors.New("storage driver is required")
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
