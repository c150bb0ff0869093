package eventbus

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: "notification.sent", Data: "x"})

	select {
	case e := <-ch:
		if e.Type != "notification.sent" {
			t.Fatalf("Type = %q, want notification.sent", e.Type)
		}
		if e.Time.IsZero() {
			t.Fatal("Publish did not stamp Time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitToUserAddressesRecipient(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	user := uuid.New()
	b.EmitToUser(user, "notification", map[string]string{"title": "hello"})

	select {
	case e := <-ch:
		if e.UserID != user {
			t.Fatalf("UserID = %s, want %s", e.UserID, user)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(Event{Type: "a"})
		b.Publish(Event{Type: "b"}) // buffer full: dropped
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := len(ch); got != 1 {
		t.Fatalf("buffered events = %d, want 1", got)
	}
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish(Event{Type: "late"})

	if _, ok := <-ch; ok {
		t.Fatal("received event after unsubscribe")
	}
}
