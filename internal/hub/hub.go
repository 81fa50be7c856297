package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"qms/turno-service/internal/store"
)

// Subscription narrows the events a dashboard receives. A zero CounterID
// follows every counter.
type Subscription struct {
	CounterID int64
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	CounterID int64  `json:"counter_id"`
}

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers payload to every matching client without blocking; slow
// clients miss the message.
func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

// Publish fans an outbox event out to dashboards. Events without a counter
// reach every subscriber.
func (h *Hub) Publish(event store.OutboxEvent) error {
	payload, err := json.Marshal(eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt})
	if err != nil {
		return err
	}
	var meta Subscription
	if event.CounterID != nil {
		meta.CounterID = *event.CounterID
	}
	h.Broadcast(payload, meta)
	return nil
}

func match(sub Subscription, meta Subscription) bool {
	if sub.CounterID == 0 || meta.CounterID == 0 {
		return true
	}
	return sub.CounterID == meta.CounterID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.CounterID < 0 {
		return SubscribeMessage{}, false
	}
	return msg, true
}
