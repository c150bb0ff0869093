package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	"taskdue/internal/preference"
	"taskdue/internal/task"
)

// ErrExists is returned when creating a record whose id is already taken.
var ErrExists = errors.New("storage: already exists")

// Memory is the process-local backend. All records are deep-copied on the
// way in and out so callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]*notification.Notification
	prefs         map[uuid.UUID]*preference.Preferences
	tasks         map[uuid.UUID]*task.Task
	defs          map[uuid.UUID]*task.Definition
	dedup         map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		notifications: map[uuid.UUID]*notification.Notification{},
		prefs:         map[uuid.UUID]*preference.Preferences{},
		tasks:         map[uuid.UUID]*task.Task{},
		defs:          map[uuid.UUID]*task.Definition{},
		dedup:         map[string]time.Time{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- notifications ----

func (m *Memory) CreateNotification(ctx context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, ErrExists)
	}
	m.notifications[n.ID] = n.Clone()
	return nil
}

func (m *Memory) GetNotification(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n.Clone(), nil
}

func (m *Memory) ListDueNotifications(ctx context.Context, asOf time.Time, limit int) ([]*notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*notification.Notification
	for _, n := range m.notifications {
		if n.Due(asOf) {
			due = append(due, n.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, ch StatusChange) (bool, error) {
	if !notification.CanTransition(ch.From, ch.To) {
		return false, fmt.Errorf("storage: illegal transition %s -> %s", ch.From, ch.To)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.Status != ch.From {
		return false, nil
	}
	applyStatusChange(n, ch)
	return true, nil
}

func applyStatusChange(n *notification.Notification, ch StatusChange) {
	n.Status = ch.To
	if ch.FailureReason != "" {
		n.FailureReason = ch.FailureReason
	}
	if ch.To == notification.StatusCancelled {
		n.CancelReason = ch.CancelReason
		at := ch.At
		n.CancelledAt = &at
	}
	n.UpdatedAt = ch.At
}

func (m *Memory) CancelForTask(ctx context.Context, taskID uuid.UUID, kinds []notification.Kind, reason string, at time.Time) (int, error) {
	wanted := make(map[notification.Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, n := range m.notifications {
		if n.Status != notification.StatusPending {
			continue
		}
		if n.RelatedTask == nil || *n.RelatedTask != taskID {
			continue
		}
		if len(wanted) > 0 && !wanted[n.Kind] {
			continue
		}
		applyStatusChange(n, StatusChange{
			From:         notification.StatusPending,
			To:           notification.StatusCancelled,
			CancelReason: reason,
			At:           at,
		})
		count++
	}
	return count, nil
}

func (m *Memory) ListNotifications(ctx context.Context, recipient uuid.UUID, q ListQuery) ([]*notification.Notification, int, error) {
	q = q.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*notification.Notification
	for _, n := range m.notifications {
		if n.Recipient != recipient {
			continue
		}
		if q.UnreadOnly && n.Read {
			continue
		}
		if q.Kind != "" && n.Kind != q.Kind {
			continue
		}
		all = append(all, n.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	off := q.Offset()
	if off >= total {
		return nil, total, nil
	}
	end := off + q.Limit
	if end > total {
		end = total
	}
	return all[off:end], total, nil
}

func (m *Memory) CountUnread(ctx context.Context, recipient uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, n := range m.notifications {
		if n.Recipient == recipient && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *Memory) MarkRead(ctx context.Context, id, recipient uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.Recipient != recipient {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if n.Read {
		return nil
	}
	n.Read = true
	readAt := at
	n.ReadAt = &readAt
	n.UpdatedAt = at
	return nil
}

func (m *Memory) MarkAllRead(ctx context.Context, recipient uuid.UUID, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, n := range m.notifications {
		if n.Recipient != recipient || n.Read {
			continue
		}
		n.Read = true
		readAt := at
		n.ReadAt = &readAt
		n.UpdatedAt = at
		count++
	}
	return count, nil
}

func (m *Memory) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, n := range m.notifications {
		if n.Status.Terminal() && n.UpdatedAt.Before(olderThan) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

// ---- preferences ----

func (m *Memory) GetPreferences(ctx context.Context, userID uuid.UUID) (*preference.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, fmt.Errorf("preferences %s: %w", userID, ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *Memory) PutPreferences(ctx context.Context, p *preference.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = p.Clone()
	return nil
}

// ---- tasks ----

func (m *Memory) CreateTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrExists)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *Memory) UpdateTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) ListOverdueTasks(ctx context.Context, asOf time.Time, limit int) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var overdue []*task.Task
	for _, t := range m.tasks {
		if t.Overdue(asOf) {
			overdue = append(overdue, t.Clone())
		}
	}
	sort.Slice(overdue, func(i, j int) bool {
		if !overdue[i].DueDate.Equal(*overdue[j].DueDate) {
			return overdue[i].DueDate.Before(*overdue[j].DueDate)
		}
		return overdue[i].ID.String() < overdue[j].ID.String()
	})
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	return overdue, nil
}

// ---- definitions ----

func (m *Memory) CreateDefinition(ctx context.Context, d *task.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[d.ID]; ok {
		return fmt.Errorf("definition %s: %w", d.ID, ErrExists)
	}
	m.defs[d.ID] = d.Clone()
	return nil
}

func (m *Memory) GetDefinition(ctx context.Context, id uuid.UUID) (*task.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[id]
	if !ok {
		return nil, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return d.Clone(), nil
}

func (m *Memory) UpdateDefinition(ctx context.Context, d *task.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[d.ID]; !ok {
		return fmt.Errorf("definition %s: %w", d.ID, ErrNotFound)
	}
	m.defs[d.ID] = d.Clone()
	return nil
}

func (m *Memory) ListDueDefinitions(ctx context.Context, asOf time.Time, limit int) ([]*task.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*task.Definition
	for _, d := range m.defs {
		if d.Status != task.DefinitionActive || d.Deleted || d.NextDue == nil {
			continue
		}
		if d.NextDue.After(asOf) {
			continue
		}
		due = append(due, d.Clone())
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDue.Equal(*due[j].NextDue) {
			return due[i].NextDue.Before(*due[j].NextDue)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ---- dedup ----

func (m *Memory) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[key] = until
	return nil
}

func (m *Memory) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) PruneDedup(ctx context.Context, asOf time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for k, until := range m.dedup {
		if until.Before(asOf) {
			delete(m.dedup, k)
			count++
		}
	}
	return count, nil
}
