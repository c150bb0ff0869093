package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"taskdue/internal/notification"
	"taskdue/internal/preference"
	"taskdue/internal/task"
	logx "taskdue/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- notifications ----

const notificationColumns = `id, kind, recipient, title, message, related_task, related_actor,
	scheduled_for, channels, status, failure_reason, cancel_reason, cancelled_at,
	is_read, read_at, is_test, created_at, updated_at`

func (s *sqliteStore) CreateNotification(ctx context.Context, n *notification.Notification) error {
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications(`+notificationColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID.String(), string(n.Kind), n.Recipient.String(), n.Title, n.Message,
		uuidOrNil(n.RelatedTask), uuidOrNil(n.RelatedActor),
		n.ScheduledFor.UnixMilli(), string(channels), string(n.Status),
		nullStr(n.FailureReason), nullStr(n.CancelReason), msOrNil(n.CancelledAt),
		boolInt(n.Read), msOrNil(n.ReadAt), boolInt(n.Test),
		n.CreatedAt.UnixMilli(), n.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetNotification(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id.String())
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, err
}

func (s *sqliteStore) ListDueNotifications(ctx context.Context, asOf time.Time, limit int) ([]*notification.Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, id ASC`
	args := []any{string(notification.StatusPending), asOf.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *sqliteStore) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, ch StatusChange) (bool, error) {
	if !notification.CanTransition(ch.From, ch.To) {
		return false, fmt.Errorf("storage: illegal transition %s -> %s", ch.From, ch.To)
	}

	set := `status = ?, updated_at = ?`
	args := []any{string(ch.To), ch.At.UnixMilli()}
	if ch.FailureReason != "" {
		set += `, failure_reason = ?`
		args = append(args, ch.FailureReason)
	}
	if ch.To == notification.StatusCancelled {
		set += `, cancel_reason = ?, cancelled_at = ?`
		args = append(args, nullStr(ch.CancelReason), ch.At.UnixMilli())
	}
	args = append(args, id.String(), string(ch.From))

	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET `+set+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (s *sqliteStore) CancelForTask(ctx context.Context, taskID uuid.UUID, kinds []notification.Kind, reason string, at time.Time) (int, error) {
	q := `UPDATE notifications SET status = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?
		WHERE related_task = ? AND status = ?`
	args := []any{
		string(notification.StatusCancelled), nullStr(reason), at.UnixMilli(), at.UnixMilli(),
		taskID.String(), string(notification.StatusPending),
	}
	if len(kinds) > 0 {
		q += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *sqliteStore) ListNotifications(ctx context.Context, recipient uuid.UUID, q ListQuery) ([]*notification.Notification, int, error) {
	q = q.Normalize()

	where := `recipient = ?`
	args := []any{recipient.String()}
	if q.UnreadOnly {
		where += ` AND is_read = 0`
	}
	if q.Kind != "" {
		where += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE `+where+`
		 ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectNotifications(rows)
	return items, total, err
}

func (s *sqliteStore) CountUnread(ctx context.Context, recipient uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient = ? AND is_read = 0`,
		recipient.String()).Scan(&count)
	return count, err
}

func (s *sqliteStore) MarkRead(ctx context.Context, id, recipient uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ?, updated_at = ?
		 WHERE id = ? AND recipient = ? AND is_read = 0`,
		at.UnixMilli(), at.UnixMilli(), id.String(), recipient.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Distinguish "already read" (idempotent success) from "not yours".
	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notifications WHERE id = ? AND recipient = ?`,
		id.String(), recipient.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return err
}

func (s *sqliteStore) MarkAllRead(ctx context.Context, recipient uuid.UUID, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ?, updated_at = ?
		 WHERE recipient = ? AND is_read = 0`,
		at.UnixMilli(), at.UnixMilli(), recipient.String())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *sqliteStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE status IN (?,?,?) AND updated_at < ?`,
		string(notification.StatusDelivered), string(notification.StatusFailed),
		string(notification.StatusCancelled), olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var (
		id, kind, recipient, title, message, channels, status string
		relatedTask, relatedActor, failure, cancel            sql.NullString
		scheduledFor, createdAt, updatedAt                    int64
		cancelledAt, readAt                                   sql.NullInt64
		isRead, isTest                                        int
	)
	if err := row.Scan(
		&id, &kind, &recipient, &title, &message, &relatedTask, &relatedActor,
		&scheduledFor, &channels, &status, &failure, &cancel, &cancelledAt,
		&isRead, &readAt, &isTest, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	n := &notification.Notification{
		Kind:          notification.Kind(kind),
		Title:         title,
		Message:       message,
		ScheduledFor:  msToTime(scheduledFor),
		Status:        notification.Status(status),
		FailureReason: failure.String,
		CancelReason:  cancel.String,
		CancelledAt:   msPtr(cancelledAt),
		Read:          isRead != 0,
		ReadAt:        msPtr(readAt),
		Test:          isTest != 0,
		CreatedAt:     msToTime(createdAt),
		UpdatedAt:     msToTime(updatedAt),
	}

	var err error
	if n.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("decode notification id: %w", err)
	}
	if n.Recipient, err = uuid.Parse(recipient); err != nil {
		return nil, fmt.Errorf("decode recipient: %w", err)
	}
	if n.RelatedTask, err = uuidPtr(relatedTask); err != nil {
		return nil, err
	}
	if n.RelatedActor, err = uuidPtr(relatedActor); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(channels), &n.Channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return n, nil
}

func collectNotifications(rows *sql.Rows) ([]*notification.Notification, error) {
	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ---- preferences ----

func (s *sqliteStore) GetPreferences(ctx context.Context, userID uuid.UUID) (*preference.Preferences, error) {
	var (
		enabled                int
		channels, kinds, quiet string
		createdAt, updatedAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, channels, kinds, quiet, created_at, updated_at
		 FROM preferences WHERE user_id = ?`, userID.String()).
		Scan(&enabled, &channels, &kinds, &quiet, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preferences %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p := &preference.Preferences{
		UserID:    userID,
		Enabled:   enabled != 0,
		CreatedAt: msToTime(createdAt),
		UpdatedAt: msToTime(updatedAt),
	}
	if err := json.Unmarshal([]byte(channels), &p.Channels); err != nil {
		return nil, fmt.Errorf("decode channel toggles: %w", err)
	}
	if err := json.Unmarshal([]byte(kinds), &p.Kinds); err != nil {
		return nil, fmt.Errorf("decode kind settings: %w", err)
	}
	if err := json.Unmarshal([]byte(quiet), &p.Quiet); err != nil {
		return nil, fmt.Errorf("decode quiet hours: %w", err)
	}
	return p, nil
}

func (s *sqliteStore) PutPreferences(ctx context.Context, p *preference.Preferences) error {
	channels, err := json.Marshal(p.Channels)
	if err != nil {
		return fmt.Errorf("encode channel toggles: %w", err)
	}
	kinds, err := json.Marshal(p.Kinds)
	if err != nil {
		return fmt.Errorf("encode kind settings: %w", err)
	}
	quiet, err := json.Marshal(p.Quiet)
	if err != nil {
		return fmt.Errorf("encode quiet hours: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO preferences(user_id, enabled, channels, kinds, quiet, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
			enabled=excluded.enabled, channels=excluded.channels, kinds=excluded.kinds,
			quiet=excluded.quiet, updated_at=excluded.updated_at`,
		p.UserID.String(), boolInt(p.Enabled), string(channels), string(kinds), string(quiet),
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	return err
}

// ---- tasks ----

const taskColumns = `id, creator_id, assignee_id, title, description, priority,
	labels, subtasks, attachments, due_date, definition_id,
	completed, completed_at, deleted, created_at, updated_at`

func (s *sqliteStore) CreateTask(ctx context.Context, t *task.Task) error {
	return s.writeTask(ctx, t, true)
}

func (s *sqliteStore) UpdateTask(ctx context.Context, t *task.Task) error {
	return s.writeTask(ctx, t, false)
}

func (s *sqliteStore) writeTask(ctx context.Context, t *task.Task, create bool) error {
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	subtasks, err := json.Marshal(t.Subtasks)
	if err != nil {
		return fmt.Errorf("encode subtasks: %w", err)
	}
	attachments, err := json.Marshal(t.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	if create {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			t.ID.String(), t.CreatorID.String(), uuidOrNil(t.AssigneeID),
			t.Title, t.Description, string(t.Priority),
			string(labels), string(subtasks), string(attachments),
			msOrNil(t.DueDate), uuidOrNil(t.DefinitionID),
			boolInt(t.Completed), msOrNil(t.CompletedAt), boolInt(t.Deleted),
			t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
		)
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET creator_id=?, assignee_id=?, title=?, description=?, priority=?,
			labels=?, subtasks=?, attachments=?, due_date=?, definition_id=?,
			completed=?, completed_at=?, deleted=?, updated_at=?
		 WHERE id = ?`,
		t.CreatorID.String(), uuidOrNil(t.AssigneeID), t.Title, t.Description, string(t.Priority),
		string(labels), string(subtasks), string(attachments),
		msOrNil(t.DueDate), uuidOrNil(t.DefinitionID),
		boolInt(t.Completed), msOrNil(t.CompletedAt), boolInt(t.Deleted),
		t.UpdatedAt.UnixMilli(), t.ID.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *sqliteStore) ListOverdueTasks(ctx context.Context, asOf time.Time, limit int) ([]*task.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE deleted = 0 AND completed = 0 AND due_date IS NOT NULL AND due_date < ?
		ORDER BY due_date ASC, id ASC`
	args := []any{asOf.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		id, creator, title, description, priority string
		labels, subtasks, attachments             string
		assignee, definitionID                    sql.NullString
		dueDate, completedAt                      sql.NullInt64
		completed, deleted                        int
		createdAt, updatedAt                      int64
	)
	if err := row.Scan(
		&id, &creator, &assignee, &title, &description, &priority,
		&labels, &subtasks, &attachments, &dueDate, &definitionID,
		&completed, &completedAt, &deleted, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	t := &task.Task{
		Title:       title,
		Description: description,
		Priority:    task.Priority(priority),
		DueDate:     msPtr(dueDate),
		Completed:   completed != 0,
		CompletedAt: msPtr(completedAt),
		Deleted:     deleted != 0,
		CreatedAt:   msToTime(createdAt),
		UpdatedAt:   msToTime(updatedAt),
	}

	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("decode task id: %w", err)
	}
	if t.CreatorID, err = uuid.Parse(creator); err != nil {
		return nil, fmt.Errorf("decode creator id: %w", err)
	}
	if t.AssigneeID, err = uuidPtr(assignee); err != nil {
		return nil, err
	}
	if t.DefinitionID, err = uuidPtr(definitionID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	if err := json.Unmarshal([]byte(subtasks), &t.Subtasks); err != nil {
		return nil, fmt.Errorf("decode subtasks: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &t.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return t, nil
}

// ---- definitions ----

const definitionColumns = `id, owner_id, template, rule, next_due, occurrence_count,
	status, deleted, created_at, updated_at`

func (s *sqliteStore) CreateDefinition(ctx context.Context, d *task.Definition) error {
	return s.writeDefinition(ctx, d, true)
}

func (s *sqliteStore) UpdateDefinition(ctx context.Context, d *task.Definition) error {
	return s.writeDefinition(ctx, d, false)
}

func (s *sqliteStore) writeDefinition(ctx context.Context, d *task.Definition, create bool) error {
	template, err := json.Marshal(d.Template)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	rule, err := json.Marshal(d.Rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}

	if create {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO definitions(`+definitionColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
			d.ID.String(), d.OwnerID.String(), string(template), string(rule),
			msOrNil(d.NextDue), d.OccurrenceCount, string(d.Status), boolInt(d.Deleted),
			d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(),
		)
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE definitions SET owner_id=?, template=?, rule=?, next_due=?,
			occurrence_count=?, status=?, deleted=?, updated_at=?
		 WHERE id = ?`,
		d.OwnerID.String(), string(template), string(rule), msOrNil(d.NextDue),
		d.OccurrenceCount, string(d.Status), boolInt(d.Deleted),
		d.UpdatedAt.UnixMilli(), d.ID.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("definition %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) GetDefinition(ctx context.Context, id uuid.UUID) (*task.Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = ?`, id.String())
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return d, err
}

func (s *sqliteStore) ListDueDefinitions(ctx context.Context, asOf time.Time, limit int) ([]*task.Definition, error) {
	q := `SELECT ` + definitionColumns + ` FROM definitions
		WHERE status = ? AND deleted = 0 AND next_due IS NOT NULL AND next_due <= ?
		ORDER BY next_due ASC, id ASC`
	args := []any{string(task.DefinitionActive), asOf.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDefinition(row rowScanner) (*task.Definition, error) {
	var (
		id, owner, template, rule string
		nextDue                   sql.NullInt64
		occurrenceCount           int
		status                    string
		deleted                   int
		createdAt, updatedAt      int64
	)
	if err := row.Scan(
		&id, &owner, &template, &rule, &nextDue, &occurrenceCount,
		&status, &deleted, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d := &task.Definition{
		NextDue:         msPtr(nextDue),
		OccurrenceCount: occurrenceCount,
		Status:          task.DefinitionStatus(status),
		Deleted:         deleted != 0,
		CreatedAt:       msToTime(createdAt),
		UpdatedAt:       msToTime(updatedAt),
	}

	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("decode definition id: %w", err)
	}
	if d.OwnerID, err = uuid.Parse(owner); err != nil {
		return nil, fmt.Errorf("decode owner id: %w", err)
	}
	if err := json.Unmarshal([]byte(template), &d.Template); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if err := json.Unmarshal([]byte(rule), &d.Rule); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return d, nil
}

// ---- dedup ----

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if _, perr := s.PruneDedup(pctx, time.Now()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) PruneDedup(ctx context.Context, asOf time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, asOf.UnixMilli())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// ---- column helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func msPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := msToTime(v.Int64)
	return &t
}

func uuidOrNil(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}

func uuidPtr(v sql.NullString) (*uuid.UUID, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	u, err := uuid.Parse(v.String)
	if err != nil {
		return nil, fmt.Errorf("decode uuid column: %w", err)
	}
	return &u, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
