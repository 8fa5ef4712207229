// Package ws fans change events out to connected dashboard sessions.
package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub owns the set of live subscribers. Every dashboard session sees every
// event, so the set is flat. All mutation and iteration happens on the run
// goroutine, which makes add/remove safe against an in-progress broadcast.
type Hub struct {
	clients   map[Subscriber]struct{}
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[Subscriber]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unreg:
			delete(h.clients, client)
		case payload := <-h.broadcast:
			for c := range h.clients {
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
		}
	}
}

// Register adds a client to the live set.
func (h *Hub) Register(client Subscriber) {
	h.register <- client
}

// Unregister removes a client. Removing an absent client is a no-op.
func (h *Hub) Unregister(client Subscriber) {
	h.unreg <- client
}

// Broadcast sends payload to every live client, best-effort. A failed send
// drops that client without affecting the others.
func (h *Hub) Broadcast(payload []byte) {
	h.broadcast <- payload
}
