package delivery

import (
	"context"

	"taskdue/internal/eventbus"
	"taskdue/internal/notification"
)

// EventInApp is the user-addressed bus event carrying a freshly delivered
// notification; real-time transports subscribe and forward it.
const EventInApp = "notification.inapp"

// InApp delivers into the recipient's live session via the bus. The record
// itself is already persisted before dispatch, so local delivery cannot
// fail: the broadcast is fire-and-forget and the result always confirms.
type InApp struct {
	bus eventbus.Bus
}

func NewInApp(bus eventbus.Bus) *InApp { return &InApp{bus: bus} }

func (s *InApp) Channel() notification.Channel { return notification.ChannelInApp }

func (s *InApp) Send(ctx context.Context, n *notification.Notification) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	if s.bus != nil {
		s.bus.EmitToUser(n.Recipient, EventInApp, n.Clone())
	}
	return Result{OK: true, MessageID: n.ID.String(), Delivered: true}
}
