// internal/realtime/hub.go
//
// Room fan-out for WebSocket connections.
// Responsibilities:
//   - Track live connections by player ref and room membership by code.
//   - Encode each event once and queue it on every member's connection.
//   - Implement room.Publisher so the registry never sees a socket.

package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/robalobadob/gallows/internal/game"
)

// Hub routes room events to connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn               // ref → conn
	rooms map[string]map[string]struct{} // code → refs
	log   zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: map[string]*Conn{},
		rooms: map[string]map[string]struct{}{},
		log:   log.With().Str("component", "hub").Logger(),
	}
}

// Attach subscribes ref to the events of room code.
func (h *Hub) Attach(code, ref string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[code] == nil {
		h.rooms[code] = map[string]struct{}{}
	}
	h.rooms[code][ref] = struct{}{}
}

// Detach unsubscribes ref from room code.
func (h *Hub) Detach(code, ref string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if refs, ok := h.rooms[code]; ok {
		delete(refs, ref)
		if len(refs) == 0 {
			delete(h.rooms, code)
		}
	}
}

// Close drops every subscription to room code.
func (h *Hub) Close(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, code)
}

// Publish sends ev to every connection attached to room code. Members
// without a live connection (HTTP solo players) are skipped.
func (h *Hub) Publish(code string, ev game.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("room", code).Str("event", ev.Type).Msg("encode event")
		return
	}
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[code]))
	for ref := range h.rooms[code] {
		if c, ok := h.conns[ref]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(b)
	}
}

// Send delivers ev to one connection only.
func (h *Hub) Send(ref string, ev game.Event) {
	h.mu.RLock()
	c, ok := h.conns[ref]
	h.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("player", ref).Str("event", ev.Type).Msg("encode event")
		return
	}
	c.enqueue(b)
}

// Members is the number of refs attached to room code.
func (h *Hub) Members(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// Connections is the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ref] = c
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.ref] == c {
		delete(h.conns, c.ref)
	}
}
