package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	"taskdue/internal/preference"
	"taskdue/internal/recurrence"
	"taskdue/internal/task"
	logx "taskdue/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "taskdue.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRejectsBadDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty driver")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSQLiteNotificationRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	taskID := uuid.New()
	actorID := uuid.New()
	readAt := testNow.Add(time.Minute)
	n := pendingNotification(uuid.New(), notification.KindDueUrgent, testNow)
	n.RelatedTask = &taskID
	n.RelatedActor = &actorID
	n.Read = true
	n.ReadAt = &readAt
	n.Test = true

	if err := st.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	got, err := st.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNotification: %v", err)
	}
	if got.Kind != n.Kind || got.Recipient != n.Recipient || got.Title != n.Title || got.Message != n.Message {
		t.Fatalf("core fields mismatch: %+v", got)
	}
	if got.RelatedTask == nil || *got.RelatedTask != taskID {
		t.Fatalf("RelatedTask = %v, want %s", got.RelatedTask, taskID)
	}
	if got.RelatedActor == nil || *got.RelatedActor != actorID {
		t.Fatalf("RelatedActor = %v, want %s", got.RelatedActor, actorID)
	}
	if !got.ScheduledFor.Equal(n.ScheduledFor) {
		t.Fatalf("ScheduledFor = %v, want %v", got.ScheduledFor, n.ScheduledFor)
	}
	if len(got.Channels) != 2 || got.Channels[0] != notification.ChannelInApp || got.Channels[1] != notification.ChannelEmail {
		t.Fatalf("Channels = %v, want attempt order preserved", got.Channels)
	}
	if got.Status != notification.StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if !got.Read || got.ReadAt == nil || !got.ReadAt.Equal(readAt) || !got.Test {
		t.Fatalf("flags mismatch: read=%v readAt=%v test=%v", got.Read, got.ReadAt, got.Test)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) || !got.UpdatedAt.Equal(n.UpdatedAt) {
		t.Fatalf("timestamps mismatch: %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	if _, err := st.GetNotification(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteConditionalStatusUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	n := pendingNotification(uuid.New(), notification.KindDueSoon, testNow)
	if err := st.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	applied, err := st.UpdateNotificationStatus(ctx, n.ID, StatusChange{
		From:          notification.StatusPending,
		To:            notification.StatusSent,
		FailureReason: "email: timeout",
		At:            testNow.Add(time.Minute),
	})
	if err != nil || !applied {
		t.Fatalf("pending->sent applied=%v err=%v, want true nil", applied, err)
	}

	applied, err = st.UpdateNotificationStatus(ctx, n.ID, StatusChange{
		From: notification.StatusPending,
		To:   notification.StatusFailed,
		At:   testNow.Add(time.Minute),
	})
	if err != nil || applied {
		t.Fatalf("stale pending->failed applied=%v err=%v, want false nil", applied, err)
	}

	got, err := st.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNotification: %v", err)
	}
	if got.Status != notification.StatusSent {
		t.Fatalf("Status = %s, want sent", got.Status)
	}
	if got.FailureReason != "email: timeout" {
		t.Fatalf("FailureReason = %q, want the partial-failure summary", got.FailureReason)
	}
	if !got.UpdatedAt.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("UpdatedAt = %v, want stamp from the change", got.UpdatedAt)
	}

	if _, err := st.UpdateNotificationStatus(ctx, n.ID, StatusChange{
		From: notification.StatusSent,
		To:   notification.StatusPending,
		At:   testNow,
	}); err == nil {
		t.Fatal("expected error for illegal transition")
	}
}

func TestSQLiteCancelForTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	taskID := uuid.New()

	soon := pendingNotification(uuid.New(), notification.KindDueSoon, testNow)
	soon.RelatedTask = &taskID
	urgent := pendingNotification(uuid.New(), notification.KindDueUrgent, testNow)
	urgent.RelatedTask = &taskID
	custom := pendingNotification(uuid.New(), notification.KindCustomReminder, testNow)
	custom.RelatedTask = &taskID

	for _, n := range []*notification.Notification{soon, urgent, custom} {
		if err := st.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	at := testNow.Add(time.Minute)
	count, err := st.CancelForTask(ctx, taskID,
		[]notification.Kind{notification.KindDueSoon, notification.KindDueUrgent},
		"task deleted", at)
	if err != nil {
		t.Fatalf("CancelForTask: %v", err)
	}
	if count != 2 {
		t.Fatalf("cancelled = %d, want 2", count)
	}

	got, _ := st.GetNotification(ctx, urgent.ID)
	if got.Status != notification.StatusCancelled || got.CancelReason != "task deleted" {
		t.Fatalf("cancel state = %s/%q", got.Status, got.CancelReason)
	}
	if got.CancelledAt == nil || !got.CancelledAt.Equal(at) {
		t.Fatalf("CancelledAt = %v, want %v", got.CancelledAt, at)
	}

	got, _ = st.GetNotification(ctx, custom.ID)
	if got.Status != notification.StatusPending {
		t.Fatalf("custom reminder status = %s, want pending", got.Status)
	}
}

func TestSQLiteDueListAndPaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	recipient := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		n := pendingNotification(recipient, notification.KindDueSoon, testNow.Add(time.Duration(i-3)*time.Hour))
		n.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		n.UpdatedAt = n.CreatedAt
		if err := st.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
		ids = append(ids, n.ID)
	}

	due, err := st.ListDueNotifications(ctx, testNow, 2)
	if err != nil {
		t.Fatalf("ListDueNotifications: %v", err)
	}
	if len(due) != 2 || due[0].ID != ids[0] || due[1].ID != ids[1] {
		t.Fatalf("due page = %v, want two oldest by schedule", due)
	}

	page, total, err := st.ListNotifications(ctx, recipient, ListQuery{Page: 2, Limit: 3})
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("page 2 = %v, want the single oldest by creation", page)
	}
}

func TestSQLiteReadTracking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	recipient := uuid.New()

	first := pendingNotification(recipient, notification.KindDueSoon, testNow)
	second := pendingNotification(recipient, notification.KindAssigned, testNow)
	for _, n := range []*notification.Notification{first, second} {
		if err := st.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	if err := st.MarkRead(ctx, first.ID, uuid.New(), testNow); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign recipient error = %v, want ErrNotFound", err)
	}
	if err := st.MarkRead(ctx, first.ID, recipient, testNow); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := st.MarkRead(ctx, first.ID, recipient, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("repeat MarkRead: %v", err)
	}
	got, _ := st.GetNotification(ctx, first.ID)
	if got.ReadAt == nil || !got.ReadAt.Equal(testNow) {
		t.Fatalf("ReadAt = %v, want first stamp to stick", got.ReadAt)
	}

	unread, err := st.CountUnread(ctx, recipient)
	if err != nil || unread != 1 {
		t.Fatalf("CountUnread = %d err=%v, want 1 nil", unread, err)
	}

	marked, err := st.MarkAllRead(ctx, recipient, testNow.Add(time.Minute))
	if err != nil || marked != 1 {
		t.Fatalf("MarkAllRead = %d err=%v, want 1 nil", marked, err)
	}
	unread, _ = st.CountUnread(ctx, recipient)
	if unread != 0 {
		t.Fatalf("unread after MarkAllRead = %d, want 0", unread)
	}
}

func TestSQLitePreferencesUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	userID := uuid.New()

	if _, err := st.GetPreferences(ctx, userID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing prefs error = %v, want ErrNotFound", err)
	}

	p := preference.Default(userID)
	p.Quiet = preference.QuietHours{Start: "22:00", End: "08:00", Timezone: "UTC"}
	p.CreatedAt = testNow
	p.UpdatedAt = testNow
	if err := st.PutPreferences(ctx, p); err != nil {
		t.Fatalf("PutPreferences: %v", err)
	}

	got, err := st.GetPreferences(ctx, userID)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if !got.Enabled || !got.Channels.Email || got.Channels.Telegram {
		t.Fatalf("defaults mismatch: %+v", got.Channels)
	}
	if got.Quiet.Start != "22:00" || got.Quiet.End != "08:00" {
		t.Fatalf("quiet hours mismatch: %+v", got.Quiet)
	}
	ks, ok := got.Kinds[notification.KindDueSoon]
	if !ok || ks.AdvanceHours != 24 {
		t.Fatalf("due_soon setting = %+v, want advance 24", ks)
	}

	p.Channels.Push = false
	p.UpdatedAt = testNow.Add(time.Minute)
	if err := st.PutPreferences(ctx, p); err != nil {
		t.Fatalf("PutPreferences upsert: %v", err)
	}
	got, _ = st.GetPreferences(ctx, userID)
	if got.Channels.Push {
		t.Fatal("upsert did not overwrite channel toggles")
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Fatalf("CreatedAt = %v, want original stamp preserved", got.CreatedAt)
	}
}

func TestSQLiteTaskRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	owner := uuid.New()
	assignee := uuid.New()
	defID := uuid.New()
	due := testNow.Add(-time.Hour)
	tk := &task.Task{
		ID:           uuid.New(),
		CreatorID:    owner,
		AssigneeID:   &assignee,
		Title:        "ship the release",
		Description:  "cut, tag, upload",
		Priority:     task.PriorityHigh,
		Labels:       []string{"release", "ops"},
		Subtasks:     []task.Subtask{{ID: uuid.New(), Title: "tag", Done: true}},
		Attachments:  []task.Attachment{{Name: "notes.md", URL: "https://example.com/notes.md"}},
		DueDate:      &due,
		DefinitionID: &defID,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	if err := st.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := st.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != tk.Title || got.Priority != tk.Priority {
		t.Fatalf("core fields mismatch: %+v", got)
	}
	if got.AssigneeID == nil || *got.AssigneeID != assignee {
		t.Fatalf("AssigneeID = %v, want %s", got.AssigneeID, assignee)
	}
	if len(got.Labels) != 2 || len(got.Subtasks) != 1 || len(got.Attachments) != 1 {
		t.Fatalf("collections mismatch: %+v", got)
	}
	if !got.Subtasks[0].Done || got.Subtasks[0].Title != "tag" {
		t.Fatalf("subtask mismatch: %+v", got.Subtasks[0])
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Fatalf("DueDate = %v, want %v", got.DueDate, due)
	}

	late, err := st.ListOverdueTasks(ctx, testNow, 0)
	if err != nil || len(late) != 1 {
		t.Fatalf("ListOverdueTasks = %v err=%v, want one", late, err)
	}

	completedAt := testNow
	tk.Completed = true
	tk.CompletedAt = &completedAt
	tk.UpdatedAt = testNow.Add(time.Minute)
	if err := st.UpdateTask(ctx, tk); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	late, _ = st.ListOverdueTasks(ctx, testNow, 0)
	if len(late) != 0 {
		t.Fatal("completed task still overdue")
	}

	missing := *tk
	missing.ID = uuid.New()
	if err := st.UpdateTask(ctx, &missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing task error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDefinitionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	cursor := testNow.Add(-time.Minute)
	def := &task.Definition{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Template: task.Template{
			Title:    "weekly review",
			Priority: task.PriorityMedium,
			Labels:   []string{"recurring"},
		},
		NextDue:   &cursor,
		Status:    task.DefinitionActive,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	def.Rule = recurrence.Rule{Frequency: recurrence.Weekly, Interval: 1}

	if err := st.CreateDefinition(ctx, def); err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}

	got, err := st.GetDefinition(ctx, def.ID)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if got.Template.Title != "weekly review" || got.Rule.Frequency != recurrence.Weekly || got.Rule.Interval != 1 {
		t.Fatalf("template/rule mismatch: %+v / %+v", got.Template, got.Rule)
	}
	if got.NextDue == nil || !got.NextDue.Equal(cursor) {
		t.Fatalf("NextDue = %v, want %v", got.NextDue, cursor)
	}

	dueDefs, err := st.ListDueDefinitions(ctx, testNow, 0)
	if err != nil || len(dueDefs) != 1 {
		t.Fatalf("ListDueDefinitions = %v err=%v, want one", dueDefs, err)
	}

	next := testNow.Add(7 * 24 * time.Hour)
	def.NextDue = &next
	def.OccurrenceCount = 1
	def.UpdatedAt = testNow.Add(time.Minute)
	if err := st.UpdateDefinition(ctx, def); err != nil {
		t.Fatalf("UpdateDefinition: %v", err)
	}
	got, _ = st.GetDefinition(ctx, def.ID)
	if got.OccurrenceCount != 1 || !got.NextDue.Equal(next) {
		t.Fatalf("advance not persisted: count=%d next=%v", got.OccurrenceCount, got.NextDue)
	}
	dueDefs, _ = st.ListDueDefinitions(ctx, testNow, 0)
	if len(dueDefs) != 0 {
		t.Fatal("advanced definition still due")
	}
}

func TestSQLitePurgeAndDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	cutoff := testNow.Add(-30 * 24 * time.Hour)

	old := pendingNotification(uuid.New(), notification.KindDueSoon, testNow)
	old.Status = notification.StatusFailed
	old.UpdatedAt = cutoff.Add(-time.Hour)
	fresh := pendingNotification(uuid.New(), notification.KindDueSoon, testNow)
	for _, n := range []*notification.Notification{old, fresh} {
		if err := st.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	removed, err := st.PurgeTerminal(ctx, cutoff)
	if err != nil || removed != 1 {
		t.Fatalf("PurgeTerminal = %d err=%v, want 1 nil", removed, err)
	}
	if _, err := st.GetNotification(ctx, fresh.ID); err != nil {
		t.Fatalf("pending record purged: %v", err)
	}

	until := testNow.Add(12 * time.Hour)
	if err := st.PutDedup(ctx, "overdue:task-1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, "overdue:task-1")
	if err != nil || !ok || !got.Equal(until) {
		t.Fatalf("GetDedup = %v ok=%v err=%v", got, ok, err)
	}

	// Upsert moves the horizon.
	later := until.Add(time.Hour)
	if err := st.PutDedup(ctx, "overdue:task-1", later); err != nil {
		t.Fatalf("PutDedup upsert: %v", err)
	}
	got, _, _ = st.GetDedup(ctx, "overdue:task-1")
	if !got.Equal(later) {
		t.Fatalf("upsert until = %v, want %v", got, later)
	}

	if err := st.PutDedup(ctx, "expired", testNow.Add(-time.Hour)); err != nil {
		t.Fatalf("PutDedup expired: %v", err)
	}
	pruned, err := st.PruneDedup(ctx, testNow)
	if err != nil || pruned != 1 {
		t.Fatalf("PruneDedup = %d err=%v, want 1 nil", pruned, err)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "taskdue.db")

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n := pendingNotification(uuid.New(), notification.KindDueSoon, testNow)
	if err := st.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(Config{Driver: "sqlite", Path: path, BusyTimeout: 2 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, err := st.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNotification after reopen: %v", err)
	}
	if got.Status != notification.StatusPending || !got.ScheduledFor.Equal(n.ScheduledFor) {
		t.Fatalf("record mutated across reopen: %+v", got)
	}
}
