package hub

import (
	"context"
	"testing"
)

func TestBroadcastMatchesSubscriptions(t *testing.T) {
	h := New(nil)
	place := NewClient("a", 4)
	user := NewClient("b", 4)
	h.Register(place)
	h.Register(user)
	h.Subscribe(place, "place:p")
	h.Subscribe(user, "user:u")

	h.Broadcast("place:p", []byte("one"))
	if err := h.Publish(context.Background(), "user:u", []byte("two")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := string(<-place.Send); got != "one" {
		t.Fatalf("expected place client to receive one, got %q", got)
	}
	if got := string(<-user.Send); got != "two" {
		t.Fatalf("expected user client to receive two, got %q", got)
	}
	if len(place.Send) != 0 || len(user.Send) != 0 {
		t.Fatalf("expected no extra messages")
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := New(nil)
	client := NewClient("slow", 1)
	h.Register(client)
	h.Subscribe(client, "place:p")

	h.Broadcast("place:p", []byte("first"))
	h.Broadcast("place:p", []byte("second"))

	if got := string(<-client.Send); got != "first" {
		t.Fatalf("expected first message, got %q", got)
	}
	if len(client.Send) != 0 {
		t.Fatalf("expected second message to be dropped")
	}
}

func TestUnsubscribeAndUnregister(t *testing.T) {
	h := New(nil)
	client := NewClient("c", 2)
	h.Register(client)
	h.Apply(client, SubscribeMessage{Action: ActionSubscribe, Channel: "place:p"})
	h.Apply(client, SubscribeMessage{Action: ActionUnsubscribe, Channel: "place:p"})

	h.Broadcast("place:p", []byte("ignored"))
	if len(client.Send) != 0 {
		t.Fatalf("expected unsubscribed client to receive nothing")
	}

	h.Unregister(client)
	h.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected send channel to be closed")
	}
	if h.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", h.ClientCount())
	}
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		raw string
		ok  bool
	}{
		{`{"action":"subscribe","channel":"place:p"}`, true},
		{`{"action":"unsubscribe","channel":"user:u"}`, true},
		{`{"action":"subscribe","channel":"place:p:service:s"}`, true},
		{`{"action":"subscribe","channel":"everything"}`, false},
		{`{"action":"publish","channel":"place:p"}`, false},
		{`not json`, false},
	}
	for _, tt := range cases {
		if _, ok := ParseSubscribe([]byte(tt.raw)); ok != tt.ok {
			t.Fatalf("ParseSubscribe(%s)=%v, want %v", tt.raw, ok, tt.ok)
		}
	}
}
