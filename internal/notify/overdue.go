package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	"taskdue/internal/task"
	logx "taskdue/pkg/logx"
)

// ProcessOverdue schedules one overdue notification per open task whose
// due date has passed, at most once per calendar day. The dedup key lives
// until local end of day, so a task still open tomorrow nags again.
func (s *Service) ProcessOverdue(ctx context.Context, now time.Time) (int, error) {
	cfg, _ := s.snapshot()

	tasks, err := s.store.ListOverdueTasks(ctx, now, cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}

	created := 0
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		handled, err := s.overdueOne(ctx, t, now)
		if err != nil {
			s.log.Warn("overdue pass item failed",
				logx.String("task", t.ID.String()),
				logx.Err(err))
			continue
		}
		if handled {
			created++
		}
	}
	if created > 0 {
		s.log.Info("overdue pass done",
			logx.Int("tasks", len(tasks)),
			logx.Int("notified", created))
	}
	return created, nil
}

func (s *Service) overdueOne(ctx context.Context, t *task.Task, now time.Time) (bool, error) {
	key := overdueDedupKey(t.ID)
	if until, ok, err := s.store.GetDedup(ctx, key); err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	} else if ok && until.After(now) {
		// Already nagged today.
		return false, nil
	}

	created := true
	_, err := s.ScheduleFromEvent(ctx, Event{
		Kind:      notification.KindOverdue,
		Recipient: t.Recipient(),
		Title:     "Task overdue: " + t.Title,
		Message:   overdueMessage(t, now),
		TaskID:    &t.ID,
		DueDate:   t.DueDate,
	})
	switch {
	case errors.Is(err, ErrSuppressed):
		// Preference-muted counts as handled; re-resolving it every pass
		// for the rest of the day buys nothing.
		created = false
	case err != nil:
		// No dedup mark, so the next hourly pass retries.
		return false, err
	}

	if err := s.store.PutDedup(ctx, key, endOfDay(now)); err != nil {
		return created, fmt.Errorf("dedup mark: %w", err)
	}
	return created, nil
}

func overdueDedupKey(taskID uuid.UUID) string {
	return "overdue:" + taskID.String()
}

// endOfDay is midnight after t, in t's location.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func overdueMessage(t *task.Task, now time.Time) string {
	if t.DueDate == nil {
		return "This task is overdue."
	}
	late := now.Sub(*t.DueDate)
	days := int(late.Hours() / 24)
	switch {
	case days >= 2:
		return fmt.Sprintf("This task was due %d days ago.", days)
	case days == 1:
		return "This task was due yesterday."
	default:
		return "This task is past its due date."
	}
}
