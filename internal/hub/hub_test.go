package hub

import (
	"encoding/json"
	"testing"
	"time"

	"qms/turno-service/internal/store"
)

func newClient(id string, counterID int64) *Client {
	return &Client{ID: id, Send: make(chan []byte, 1), Subscription: Subscription{CounterID: counterID}}
}

func received(client *Client) bool {
	select {
	case <-client.Send:
		return true
	default:
		return false
	}
}

func TestBroadcastFiltersByCounter(t *testing.T) {
	h := New()
	all := newClient("all", 0)
	one := newClient("one", 1)
	two := newClient("two", 2)
	h.Register(all)
	h.Register(one)
	h.Register(two)

	h.Broadcast([]byte(`{}`), Subscription{CounterID: 1})
	if !received(all) || !received(one) || received(two) {
		t.Fatalf("counter event should reach only its counter and wildcard clients")
	}

	h.Broadcast([]byte(`{}`), Subscription{})
	if !received(all) || !received(one) || !received(two) {
		t.Fatalf("global event should reach every client")
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New()
	client := newClient("slow", 0)
	h.Register(client)

	h.Broadcast([]byte(`1`), Subscription{})
	h.Broadcast([]byte(`2`), Subscription{})

	if msg := <-client.Send; string(msg) != "1" {
		t.Fatalf("expected first message to be kept, got %s", msg)
	}
	if received(client) {
		t.Fatalf("second message should have been dropped")
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	client := newClient("c", 0)
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Fatalf("expected send channel to be closed")
	}
	if h.Clients() != 0 {
		t.Fatalf("expected no clients, got %d", h.Clients())
	}
}

func TestPublishWrapsEnvelope(t *testing.T) {
	h := New()
	client := newClient("c", 3)
	h.Register(client)

	counterID := int64(3)
	createdAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	err := h.Publish(store.OutboxEvent{
		EventID:   "e-1",
		Type:      "ticket.called",
		CounterID: &counterID,
		Payload:   json.RawMessage(`{"ticket_id":9}`),
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	var env eventEnvelope
	if err := json.Unmarshal(<-client.Send, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != "ticket.called" || string(env.Payload) != `{"ticket_id":9}` || !env.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestParseSubscribe(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
		want int64
	}{
		{"subscribe counter", `{"action":"subscribe","counter_id":4}`, true, 4},
		{"subscribe all", `{"action":"subscribe"}`, true, 0},
		{"unsubscribe", `{"action":"unsubscribe"}`, true, 0},
		{"unknown action", `{"action":"call"}`, false, 0},
		{"negative counter", `{"action":"subscribe","counter_id":-1}`, false, 0},
		{"not json", `subscribe`, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := ParseSubscribe([]byte(tc.raw))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && msg.CounterID != tc.want {
				t.Fatalf("expected counter %d, got %d", tc.want, msg.CounterID)
			}
		})
	}
}
