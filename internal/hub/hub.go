// Package hub fans out dashboard events to connected observers.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
)

// ErrClosed is returned by SendTo for a connection that is no longer open.
var ErrClosed = errors.New("hub: connection closed")

// Conn is a connected dashboard observer.
type Conn interface {
	Send(msg []byte) error
	Open() bool
	Close() error
}

// Listener receives every broadcast event. Listeners are not subscribers:
// they never count toward Len and are never removed. They must not block.
type Listener func(Event)

// Hub is the set of open dashboard connections.
type Hub struct {
	mu        sync.Mutex
	conns     map[Conn]struct{}
	listeners []Listener
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{conns: make(map[Conn]struct{})}
}

// Subscribe adds c to the broadcast set.
func (h *Hub) Subscribe(c Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	log.Printf("hub: subscriber added (%d connected)", n)
}

// Unsubscribe removes c. Removing an unknown connection is a no-op.
func (h *Hub) Unsubscribe(c Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	if ok {
		log.Printf("hub: subscriber removed (%d connected)", n)
	}
}

// Len returns the number of subscribed connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Tap registers a listener for all broadcast events.
func (h *Hub) Tap(l Listener) {
	if l == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
}

// Broadcast sends evt to every open subscriber and returns how many received
// it. Connections that are no longer open or fail to accept the message are
// removed.
func (h *Hub) Broadcast(evt Event) int {
	msg, err := json.Marshal(evt)
	if err != nil {
		log.Printf("hub: marshal %s: %v", evt.Type, err)
		return 0
	}

	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	listeners := append([]Listener(nil), h.listeners...)
	h.mu.Unlock()

	delivered := 0
	var dead []Conn
	for _, c := range conns {
		if !c.Open() {
			dead = append(dead, c)
			continue
		}
		if err := c.Send(msg); err != nil {
			log.Printf("hub: send %s: %v", evt.Type, err)
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	for _, c := range dead {
		h.Unsubscribe(c)
		c.Close()
	}

	for _, l := range listeners {
		l(evt)
	}
	return delivered
}

// SendTo delivers evt to a single connection. A failed send unsubscribes it.
func (h *Hub) SendTo(c Conn, evt Event) error {
	msg, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if !c.Open() {
		h.Unsubscribe(c)
		return ErrClosed
	}
	if err := c.Send(msg); err != nil {
		h.Unsubscribe(c)
		c.Close()
		return err
	}
	return nil
}
