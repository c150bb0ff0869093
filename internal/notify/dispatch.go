package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"taskdue/internal/notification"
	"taskdue/internal/storage"
	logx "taskdue/pkg/logx"
)

// ProcessDue delivers every pending notification due as of now and returns
// one result per record picked up. Workers share a rate limiter across
// channels; a single bad record never fails the pass.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) ([]DeliveryResult, error) {
	cfg, limiter := s.snapshot()

	due, err := s.store.ListDueNotifications(ctx, now, cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	results := make([]DeliveryResult, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, n := range due {
		i, n := i, n
		g.Go(func() error {
			results[i] = s.deliverOne(gctx, n, cfg, limiter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	sent, failed, skipped := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Status == notification.StatusFailed:
			failed++
		case r.Status == notification.StatusSent || r.Status == notification.StatusDelivered:
			sent++
		}
	}
	s.log.Info("dispatch pass done",
		logx.Int("due", len(due)),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Int("skipped", skipped))
	return results, nil
}

// deliverOne attempts every configured channel of one record and settles
// its status with a conditional pending-only update. Channels with no
// registered sender are skipped and do not count as attempts; a record
// with zero attempted channels stays pending for the next pass.
func (s *Service) deliverOne(ctx context.Context, n *notification.Notification, cfg Config, limiter *rate.Limiter) DeliveryResult {
	res := DeliveryResult{ID: n.ID, Status: n.Status}

	var attempts []ChannelAttempt
	anyOK, allOK, confirmed := false, true, false
	for _, ch := range n.Channels {
		sender, ok := s.senders.Lookup(ch)
		if !ok {
			s.log.Warn("no sender for channel",
				logx.String("id", n.ID.String()),
				logx.String("channel", string(ch)))
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			res.Err = err
			return res
		}
		sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		out := sender.Send(sendCtx, n)
		cancel()

		attempts = append(attempts, ChannelAttempt{
			Channel:   ch,
			OK:        out.OK,
			Delivered: out.Delivered,
			MessageID: out.MessageID,
			Err:       out.Err,
		})
		if out.OK {
			anyOK = true
			if out.Delivered {
				confirmed = true
			}
		} else {
			allOK = false
			s.log.Warn("channel send failed",
				logx.String("id", n.ID.String()),
				logx.String("channel", string(ch)),
				logx.Err(out.Err))
		}
	}
	res.Attempts = attempts

	if len(attempts) == 0 {
		s.log.Warn("notification left pending, no usable channel",
			logx.String("id", n.ID.String()),
			logx.Any("channels", n.Channels))
		return res
	}

	target := notification.StatusSent
	if !anyOK {
		target = notification.StatusFailed
	}
	change := storage.StatusChange{
		From: notification.StatusPending,
		To:   target,
		At:   s.clk.Now(),
	}
	if !allOK {
		change.FailureReason = joinFailures(attempts)
	}
	applied, err := s.store.UpdateNotificationStatus(ctx, n.ID, change)
	if err != nil {
		res.Err = fmt.Errorf("settle status: %w", err)
		return res
	}
	if !applied {
		// Another pass advanced the record; it was already sent once.
		res.Skipped = true
		return res
	}
	res.Status = target

	if target == notification.StatusFailed {
		res.Err = fmt.Errorf("all channels failed: %s", change.FailureReason)
		s.publish(EventFailed, LifecycleEvent{
			ID:        n.ID,
			Kind:      n.Kind,
			Recipient: n.Recipient,
			Status:    target,
			Channels:  n.Channels,
			Error:     change.FailureReason,
		})
		return res
	}

	// A confirmed local handoff upgrades sent to delivered when nothing
	// else is still in flight on a remote channel.
	if allOK && confirmed {
		up, err := s.store.UpdateNotificationStatus(ctx, n.ID, storage.StatusChange{
			From: notification.StatusSent,
			To:   notification.StatusDelivered,
			At:   s.clk.Now(),
		})
		if err != nil {
			s.log.Warn("delivered upgrade failed", logx.String("id", n.ID.String()), logx.Err(err))
		} else if up {
			res.Status = notification.StatusDelivered
		}
	}

	s.publish(EventSent, LifecycleEvent{
		ID:        n.ID,
		Kind:      n.Kind,
		Recipient: n.Recipient,
		Status:    res.Status,
		Channels:  n.Channels,
		Error:     change.FailureReason,
	})
	if !confirmed && s.bus != nil {
		// No in-app sender ran, so nudge the recipient's live clients
		// directly. Fire and forget.
		s.bus.EmitToUser(n.Recipient, EventUserPing, LifecycleEvent{
			ID:        n.ID,
			Kind:      n.Kind,
			Recipient: n.Recipient,
			Status:    res.Status,
			Channels:  n.Channels,
		})
	}
	return res
}

// joinFailures summarizes failed attempts as "channel: error" pairs.
func joinFailures(attempts []ChannelAttempt) string {
	var b strings.Builder
	for _, a := range attempts {
		if a.OK {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(string(a.Channel))
		b.WriteString(": ")
		if a.Err != nil {
			b.WriteString(a.Err.Error())
		} else {
			b.WriteString("send failed")
		}
	}
	return b.String()
}

// CancelForTask cancels still-pending due reminders for a task, for
// example after completion or deletion. With no explicit kinds both due
// reminder kinds are cancelled; kinds outside that set are rejected.
func (s *Service) CancelForTask(ctx context.Context, taskID uuid.UUID, reason string, kinds ...notification.Kind) (int, error) {
	if len(kinds) == 0 {
		kinds = []notification.Kind{notification.KindDueSoon, notification.KindDueUrgent}
	}
	for _, k := range kinds {
		if k != notification.KindDueSoon && k != notification.KindDueUrgent {
			return 0, fmt.Errorf("%w: %q", ErrNotCancellable, string(k))
		}
	}

	count, err := s.store.CancelForTask(ctx, taskID, kinds, reason, s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("cancel for task: %w", err)
	}
	if count > 0 {
		s.publish(EventCancelled, LifecycleEvent{
			Status: notification.StatusCancelled,
			TaskID: &taskID,
			Count:  count,
		})
		s.log.Debug("due reminders cancelled",
			logx.String("task", taskID.String()),
			logx.Int("count", count),
			logx.String("reason", reason))
	}
	return count, nil
}
