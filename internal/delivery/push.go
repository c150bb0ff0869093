package delivery

import (
	"context"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	logx "taskdue/pkg/logx"
)

// Pusher is the mobile/web push contract; like Mailer it is injected by the
// deployment.
type Pusher interface {
	Push(ctx context.Context, recipient uuid.UUID, title, body string) (messageID string, err error)
}

type Push struct {
	pusher Pusher
}

func NewPush(p Pusher) *Push { return &Push{pusher: p} }

func (s *Push) Channel() notification.Channel { return notification.ChannelPush }

func (s *Push) Send(ctx context.Context, n *notification.Notification) Result {
	id, err := s.pusher.Push(ctx, n.Recipient, n.Title, n.Message)
	if err != nil {
		return Result{Err: err}
	}
	return Result{OK: true, MessageID: id}
}

// LogPusher logs push sends instead of reaching a gateway.
type LogPusher struct {
	log logx.Logger
}

func NewLogPusher(log logx.Logger) *LogPusher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogPusher{log: log}
}

func (p *LogPusher) Push(ctx context.Context, recipient uuid.UUID, title, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	p.log.Info("push out",
		logx.String("recipient", recipient.String()),
		logx.String("title", title),
		logx.String("message_id", id))
	return id, nil
}
