package hub

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// Handler serves dashboards over SockJS under prefix. Clients follow every
// counter until they send a subscribe message.
func (h *Hub) Handler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, h.serveSession)
}

func (h *Hub) serveSession(session sockjs.Session) {
	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	h.Register(client)
	log.Printf("realtime connect client=%s clients=%d", client.ID, h.Clients())
	defer func() {
		h.Unregister(client)
		log.Printf("realtime disconnect client=%s clients=%d", client.ID, h.Clients())
	}()

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				log.Printf("realtime send error client=%s err=%v", client.ID, err)
			}
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			h.UpdateSubscription(client, Subscription{})
			continue
		}
		h.UpdateSubscription(client, Subscription{CounterID: parsed.CounterID})
	}
}
