package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/clock"
	"taskdue/internal/delivery"
	"taskdue/internal/eventbus"
	"taskdue/internal/notification"
	"taskdue/internal/preference"
	"taskdue/internal/storage"
	"taskdue/internal/task"
	logx "taskdue/pkg/logx"
)

func makePending(t *testing.T, store storage.Store, recipient uuid.UUID, channels ...notification.Channel) *notification.Notification {
	t.Helper()
	n := &notification.Notification{
		ID:           uuid.New(),
		Kind:         notification.KindAssigned,
		Recipient:    recipient,
		Title:        "pending",
		ScheduledFor: testNow.Add(-time.Minute),
		Channels:     channels,
		Status:       notification.StatusPending,
		CreatedAt:    testNow.Add(-time.Minute),
		UpdatedAt:    testNow.Add(-time.Minute),
	}
	if err := store.CreateNotification(context.Background(), n); err != nil {
		t.Fatalf("CreateNotification error: %v", err)
	}
	return n
}

func drainEvents(ch <-chan eventbus.Event) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestProcessDuePartialSuccessIsSent(t *testing.T) {
	t.Parallel()
	email := okSender(notification.ChannelEmail)
	push := failSender(notification.ChannelPush, errors.New("gateway down"))
	svc, store, _, _ := newTestService(t, email, push)
	ctx := context.Background()

	n := makePending(t, store, uuid.New(), notification.ChannelEmail, notification.ChannelPush)

	results, err := svc.ProcessDue(ctx, testNow)
	if err != nil {
		t.Fatalf("ProcessDue error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Status != notification.StatusSent {
		t.Fatalf("Status = %v, want %v", r.Status, notification.StatusSent)
	}
	if len(r.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(r.Attempts))
	}

	stored, err := store.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNotification error: %v", err)
	}
	if stored.Status != notification.StatusSent {
		t.Fatalf("stored Status = %v, want %v", stored.Status, notification.StatusSent)
	}
	if !strings.Contains(stored.FailureReason, "push: gateway down") {
		t.Fatalf("FailureReason = %q, want push failure recorded", stored.FailureReason)
	}
}

func TestProcessDueAllFailed(t *testing.T) {
	t.Parallel()
	email := failSender(notification.ChannelEmail, errors.New("smtp refused"))
	push := failSender(notification.ChannelPush, errors.New("gateway down"))
	svc, store, _, _ := newTestService(t, email, push)
	ctx := context.Background()

	n := makePending(t, store, uuid.New(), notification.ChannelEmail, notification.ChannelPush)

	results, err := svc.ProcessDue(ctx, testNow)
	if err != nil {
		t.Fatalf("ProcessDue error: %v", err)
	}
	if results[0].Status != notification.StatusFailed {
		t.Fatalf("Status = %v, want %v", results[0].Status, notification.StatusFailed)
	}
	if results[0].Err == nil {
		t.Fatal("expected a summarizing error on the result")
	}

	stored, _ := store.GetNotification(ctx, n.ID)
	if stored.Status != notification.StatusFailed {
		t.Fatalf("stored Status = %v, want %v", stored.Status, notification.StatusFailed)
	}
	for _, part := range []string{"email: smtp refused", "push: gateway down"} {
		if !strings.Contains(stored.FailureReason, part) {
			t.Fatalf("FailureReason = %q, missing %q", stored.FailureReason, part)
		}
	}
}

func TestProcessDueConfirmedUpgradesToDelivered(t *testing.T) {
	t.Parallel()
	inapp := &fakeSender{
		channel: notification.ChannelInApp,
		result:  delivery.Result{OK: true, Delivered: true},
	}
	svc, store, _, bus := newTestService(t, inapp)
	ctx := context.Background()
	events, stop := bus.Subscribe(16)
	defer stop()

	n := makePending(t, store, uuid.New(), notification.ChannelInApp)

	results, err := svc.ProcessDue(ctx, testNow)
	if err != nil {
		t.Fatalf("ProcessDue error: %v", err)
	}
	if results[0].Status != notification.StatusDelivered {
		t.Fatalf("Status = %v, want %v", results[0].Status, notification.StatusDelivered)
	}

	stored, _ := store.GetNotification(ctx, n.ID)
	if stored.Status != notification.StatusDelivered {
		t.Fatalf("stored Status = %v, want %v", stored.Status, notification.StatusDelivered)
	}

	// The in-app sender already reached the recipient; no extra ping.
	for _, e := range drainEvents(events) {
		if e.Type == EventUserPing {
			t.Fatal("unexpected user ping after confirmed in-app delivery")
		}
	}
}

func TestProcessDuePingsUserWithoutInApp(t *testing.T) {
	t.Parallel()
	email := okSender(notification.ChannelEmail)
	svc, store, _, bus := newTestService(t, email)
	ctx := context.Background()
	events, stop := bus.Subscribe(16)
	defer stop()

	recipient := uuid.New()
	makePending(t, store, recipient, notification.ChannelEmail)

	if _, err := svc.ProcessDue(ctx, testNow); err != nil {
		t.Fatalf("ProcessDue error: %v", err)
	}

	var sawSent, sawPing bool
	for _, e := range drainEvents(events) {
		switch e.Type {
		case EventSent:
			sawSent = true
		case EventUserPing:
			sawPing = true
			if e.UserID != recipient {
				t.Fatalf("ping UserID = %v, want %v", e.UserID, recipient)
			}
		}
	}
	if !sawSent || !sawPing {
		t.Fatalf("events: sent=%v ping=%v, want both", sawSent, sawPing)
	}
}

func TestProcessDueNoSenderStaysPending(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	n := makePending(t, store, uuid.New(), notification.ChannelTelegram)

	results, err := svc.ProcessDue(ctx, testNow)
	if err != nil {
		t.Fatalf("ProcessDue error: %v", err)
	}
	if len(results[0].Attempts) != 0 {
		t.Fatalf("attempts = %d, want 0", len(results[0].Attempts))
	}

	stored, _ := store.GetNotification(ctx, n.ID)
	if stored.Status != notification.StatusPending {
		t.Fatalf("stored Status = %v, want pending for retry", stored.Status)
	}
}

func TestProcessDueIgnoresFuture(t *testing.T) {
	t.Parallel()
	email := okSender(notification.ChannelEmail)
	svc, store, _, _ := newTestService(t, email)
	ctx := context.Background()

	n := makePending(t, store, uuid.New(), notification.ChannelEmail)
	n2 := n.Clone()
	n2.ID = uuid.New()
	n2.ScheduledFor = testNow.Add(time.Hour)
	if err := store.CreateNotification(ctx, n2); err != nil {
		t.Fatalf("CreateNotification error: %v", err)
	}

	results, err := svc.ProcessDue(ctx, testNow)
	if err != nil {
		t.Fatalf("ProcessDue error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want only the due record", len(results))
	}
	if email.count() != 1 {
		t.Fatalf("sends = %d, want 1", email.count())
	}
}

// settleBlockedStore simulates a concurrent processor winning the
// conditional update race.
type settleBlockedStore struct {
	storage.Store
}

func (s settleBlockedStore) UpdateNotificationStatus(context.Context, uuid.UUID, storage.StatusChange) (bool, error) {
	return false, nil
}

func TestProcessDueSkipsWhenRaceLost(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	t.Cleanup(func() { mem.Close() })
	email := okSender(notification.ChannelEmail)
	svc := New(Config{}, settleBlockedStore{mem}, delivery.NewRegistry(email),
		eventbus.New(), clock.NewFake(testNow), logx.Nop())

	makePending(t, mem, uuid.New(), notification.ChannelEmail)

	results, err := svc.ProcessDue(context.Background(), testNow)
	if err != nil {
		t.Fatalf("ProcessDue error: %v", err)
	}
	if !results[0].Skipped {
		t.Fatal("expected Skipped when the conditional update does not apply")
	}
}

func TestCancelForTask(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	taskID := uuid.New()
	user := uuid.New()

	due := testNow.Add(48 * time.Hour)
	for _, kind := range []notification.Kind{notification.KindDueSoon, notification.KindDueUrgent} {
		if _, err := svc.ScheduleFromEvent(ctx, Event{
			Kind: kind, Recipient: user, Title: "t", TaskID: &taskID, DueDate: &due,
		}); err != nil {
			t.Fatalf("ScheduleFromEvent(%s) error: %v", kind, err)
		}
	}
	assigned, err := svc.ScheduleFromEvent(ctx, Event{
		Kind: notification.KindAssigned, Recipient: user, Title: "t", TaskID: &taskID,
	})
	if err != nil {
		t.Fatalf("ScheduleFromEvent error: %v", err)
	}

	count, err := svc.CancelForTask(ctx, taskID, "task completed")
	if err != nil {
		t.Fatalf("CancelForTask error: %v", err)
	}
	if count != 2 {
		t.Fatalf("cancelled = %d, want 2", count)
	}

	stored, _ := store.GetNotification(ctx, assigned.ID)
	if stored.Status != notification.StatusPending {
		t.Fatalf("assigned Status = %v, want untouched pending", stored.Status)
	}

	if _, err := svc.CancelForTask(ctx, taskID, "x", notification.KindCompleted); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
}

func overdueTask(t *testing.T, store storage.Store, due time.Time) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:        uuid.New(),
		CreatorID: uuid.New(),
		Title:     "file the report",
		DueDate:   &due,
		CreatedAt: due.Add(-24 * time.Hour),
		UpdatedAt: due.Add(-24 * time.Hour),
	}
	if err := store.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	return tk
}

func TestProcessOverdueOncePerDay(t *testing.T) {
	t.Parallel()
	svc, store, clk, _ := newTestService(t)
	ctx := context.Background()

	tk := overdueTask(t, store, testNow.Add(-2*time.Hour))

	created, err := svc.ProcessOverdue(ctx, clk.Now())
	if err != nil {
		t.Fatalf("ProcessOverdue error: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	// Same day: the dedup key suppresses a second notification.
	clk.Advance(3 * time.Hour)
	if created, err = svc.ProcessOverdue(ctx, clk.Now()); err != nil || created != 0 {
		t.Fatalf("same-day ProcessOverdue = %d, err %v; want 0, nil", created, err)
	}

	// Next day: the key expired, the task nags again.
	clk.Advance(24 * time.Hour)
	if created, err = svc.ProcessOverdue(ctx, clk.Now()); err != nil || created != 1 {
		t.Fatalf("next-day ProcessOverdue = %d, err %v; want 1, nil", created, err)
	}

	_, total, err := store.ListNotifications(ctx, tk.CreatorID, storage.ListQuery{Kind: notification.KindOverdue})
	if err != nil {
		t.Fatalf("ListNotifications error: %v", err)
	}
	if total != 2 {
		t.Fatalf("overdue notifications = %d, want 2", total)
	}
}

func TestProcessOverdueSuppressedStillDeduped(t *testing.T) {
	t.Parallel()
	svc, store, clk, _ := newTestService(t)
	ctx := context.Background()

	tk := overdueTask(t, store, testNow.Add(-2*time.Hour))
	prefs := preference.Default(tk.CreatorID)
	prefs.Enabled = false
	if _, err := svc.UpdatePreferences(ctx, prefs); err != nil {
		t.Fatalf("UpdatePreferences error: %v", err)
	}

	if created, err := svc.ProcessOverdue(ctx, clk.Now()); err != nil || created != 0 {
		t.Fatalf("ProcessOverdue = %d, err %v; want 0, nil", created, err)
	}

	// Muted recipients are not re-resolved all day.
	key := overdueDedupKey(tk.ID)
	if _, ok, err := store.GetDedup(ctx, key); err != nil || !ok {
		t.Fatalf("dedup key missing after suppression: ok=%v err=%v", ok, err)
	}
}

func TestSweepPurgesOldTerminal(t *testing.T) {
	t.Parallel()
	svc, store, clk, _ := newTestService(t)
	ctx := context.Background()

	old := makePending(t, store, uuid.New(), notification.ChannelEmail)
	if _, err := store.UpdateNotificationStatus(ctx, old.ID, storage.StatusChange{
		From: notification.StatusPending,
		To:   notification.StatusFailed,
		At:   testNow,
	}); err != nil {
		t.Fatalf("UpdateNotificationStatus error: %v", err)
	}
	fresh := makePending(t, store, uuid.New(), notification.ChannelEmail)

	clk.Advance(91 * 24 * time.Hour)
	removed, err := svc.Sweep(ctx, clk.Now())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if _, err := store.GetNotification(ctx, old.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("terminal record still present: err = %v", err)
	}
	if _, err := store.GetNotification(ctx, fresh.ID); err != nil {
		t.Fatalf("pending record purged: %v", err)
	}
}
