// Package delivery holds the per-channel send contracts the dispatcher fans
// out to. Senders are synchronous and bounded by the caller's context; the
// dispatcher owns retries-by-redelivery, rate limiting and status bookkeeping.
package delivery

import (
	"context"

	"taskdue/internal/notification"
)

// Result is one channel attempt's outcome.
type Result struct {
	OK        bool
	MessageID string
	// Delivered marks local delivery as confirmed (in-app only); the
	// dispatcher upgrades sent to delivered when every attempted channel
	// succeeded and one of them confirmed.
	Delivered bool
	Err       error
}

type Sender interface {
	Channel() notification.Channel
	Send(ctx context.Context, n *notification.Notification) Result
}

// Registry maps channels to senders. A channel without a sender is skipped
// by the dispatcher (not attempted), never failed.
type Registry struct {
	senders map[notification.Channel]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: map[notification.Channel]Sender{}}
	for _, s := range senders {
		if s == nil {
			continue
		}
		r.senders[s.Channel()] = s
	}
	return r
}

func (r *Registry) Lookup(ch notification.Channel) (Sender, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.senders[ch]
	return s, ok
}

// Channels lists the registered channels in stable order.
func (r *Registry) Channels() []notification.Channel {
	if r == nil {
		return nil
	}
	var out []notification.Channel
	for _, ch := range notification.AllChannels() {
		if _, ok := r.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
