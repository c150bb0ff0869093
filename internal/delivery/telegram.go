package delivery

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"taskdue/internal/notification"
)

// ErrNoChat means the recipient has no Telegram chat on file; the attempt
// counts as failed for that channel only.
var ErrNoChat = errors.New("delivery: recipient has no telegram chat")

// ChatDirectory resolves a recipient to their Telegram chat. Deployments
// back this with their user profile store; StaticChats covers config-driven
// setups.
type ChatDirectory interface {
	ChatID(userID uuid.UUID) (int64, bool)
}

type StaticChats map[uuid.UUID]int64

func (m StaticChats) ChatID(userID uuid.UUID) (int64, bool) {
	id, ok := m[userID]
	return id, ok
}

// ParseStaticChats reads "uuid:chatID" pairs (config format).
func ParseStaticChats(pairs []string) (StaticChats, error) {
	out := StaticChats{}
	for _, p := range pairs {
		user, chat, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			return nil, errors.New("delivery: chat mapping must be uuid:chat_id, got " + p)
		}
		uid, err := uuid.Parse(strings.TrimSpace(user))
		if err != nil {
			return nil, err
		}
		cid, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
		if err != nil {
			return nil, err
		}
		out[uid] = cid
	}
	return out, nil
}

type Telegram struct {
	bot   *tele.Bot
	chats ChatDirectory
}

// NewTelegram builds an outbound-only sender; the bot never polls.
func NewTelegram(token string, chats ChatDirectory) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("delivery: telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chats: chats}, nil
}

func (t *Telegram) Channel() notification.Channel { return notification.ChannelTelegram }

func (t *Telegram) Send(ctx context.Context, n *notification.Notification) Result {
	if t.chats == nil {
		return Result{Err: ErrNoChat}
	}
	chatID, ok := t.chats.ChatID(n.Recipient)
	if !ok {
		return Result{Err: ErrNoChat}
	}

	chat := &tele.Chat{ID: chatID}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	var first *tele.Message
	for _, chunk := range splitText(renderHTML(n), telegramTextLimit) {
		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		default:
		}
		msg, err := t.bot.Send(chat, chunk, opts)
		if err != nil {
			return Result{Err: err}
		}
		if first == nil {
			first = msg
		}
	}
	if first == nil {
		return Result{OK: true}
	}
	return Result{OK: true, MessageID: strconv.Itoa(first.ID)}
}

// renderHTML formats a notification for Telegram HTML parse mode: bold
// title, blank line, body. Every chunk sent must carry balanced markup,
// so a payload too large for one message goes out plain instead.
func renderHTML(n *notification.Notification) string {
	title := html.EscapeString(strings.TrimSpace(n.Title))
	body := html.EscapeString(strings.TrimSpace(n.Message))
	if title == "" {
		return body
	}
	join := func(head string) string {
		if body == "" {
			return head
		}
		return head + "\n\n" + body
	}
	out := join("<b>" + title + "</b>")
	if utf8.RuneCountInString(out) > telegramTextLimit {
		return join(title)
	}
	return out
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries so chunks stay readable.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
