package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	"taskdue/internal/preference"
	"taskdue/internal/storage"
)

// Preferences returns the recipient's notification preferences, creating
// and persisting the defaults on first touch.
func (s *Service) Preferences(ctx context.Context, userID uuid.UUID) (*preference.Preferences, error) {
	p, err := s.store.GetPreferences(ctx, userID)
	switch {
	case err == nil:
		p.Normalize()
		return p, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	p = preference.Default(userID)
	now := s.clk.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.store.PutPreferences(ctx, p); err != nil {
		return nil, fmt.Errorf("seed default preferences: %w", err)
	}
	return p, nil
}

// UpdatePreferences validates and stores a full preference document. The
// caller's copy is not retained.
func (s *Service) UpdatePreferences(ctx context.Context, p *preference.Preferences) (*preference.Preferences, error) {
	if p == nil || p.UserID == uuid.Nil {
		return nil, errors.New("notify: preferences need a user id")
	}
	cp := p.Clone()
	cp.Normalize()
	if err := cp.Quiet.Validate(); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	cp.UpdatedAt = now
	cp.CreatedAt = now
	if prev, err := s.store.GetPreferences(ctx, cp.UserID); err == nil {
		cp.CreatedAt = prev.CreatedAt
	}
	if err := s.store.PutPreferences(ctx, cp); err != nil {
		return nil, fmt.Errorf("store preferences: %w", err)
	}
	return cp, nil
}

// ListForRecipient pages a recipient's notifications, newest first, and
// reports the total match count.
func (s *Service) ListForRecipient(ctx context.Context, recipient uuid.UUID, q storage.ListQuery) ([]*notification.Notification, int, error) {
	return s.store.ListNotifications(ctx, recipient, q)
}

// UnreadCount reports how many of the recipient's notifications are unread.
func (s *Service) UnreadCount(ctx context.Context, recipient uuid.UUID) (int, error) {
	return s.store.CountUnread(ctx, recipient)
}

// MarkRead flags one notification read. Marking an already-read record is
// a no-op; a foreign or unknown id is storage.ErrNotFound.
func (s *Service) MarkRead(ctx context.Context, id, recipient uuid.UUID) error {
	return s.store.MarkRead(ctx, id, recipient, s.clk.Now())
}

// MarkAllRead flags every unread notification of the recipient and returns
// how many records changed.
func (s *Service) MarkAllRead(ctx context.Context, recipient uuid.UUID) (int, error) {
	return s.store.MarkAllRead(ctx, recipient, s.clk.Now())
}
