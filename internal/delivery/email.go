package delivery

import (
	"context"

	"github.com/google/uuid"

	"taskdue/internal/notification"
	logx "taskdue/pkg/logx"
)

// Mailer is the outbound mail contract. The repo ships no SMTP transport;
// deployments inject one, and LogMailer stands in everywhere else.
type Mailer interface {
	Mail(ctx context.Context, recipient uuid.UUID, subject, body string) (messageID string, err error)
}

type Email struct {
	mailer Mailer
}

func NewEmail(m Mailer) *Email { return &Email{mailer: m} }

func (e *Email) Channel() notification.Channel { return notification.ChannelEmail }

func (e *Email) Send(ctx context.Context, n *notification.Notification) Result {
	id, err := e.mailer.Mail(ctx, n.Recipient, n.Title, n.Message)
	if err != nil {
		return Result{Err: err}
	}
	return Result{OK: true, MessageID: id}
}

// LogMailer writes outbound mail to the log instead of a wire.
type LogMailer struct {
	log logx.Logger
}

func NewLogMailer(log logx.Logger) *LogMailer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Mail(ctx context.Context, recipient uuid.UUID, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.log.Info("mail out",
		logx.String("recipient", recipient.String()),
		logx.String("subject", subject),
		logx.Int("body_len", len(body)),
		logx.String("message_id", id))
	return id, nil
}
