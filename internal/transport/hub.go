package transport

import (
	"sync"

	"github.com/trakwell-ai/websocket-notify/internal/session"
)

// Hub is this process's live-connection table: which clients are connected
// right now, grouped by room. It only indexes clients; connection lifecycle
// is driven by the websocket handler.
type Hub struct {
	mu    sync.RWMutex
	rooms map[session.Room]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[session.Room]map[string]*Client)}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.Room] == nil {
		h.rooms[c.Room] = make(map[string]*Client)
	}
	h.rooms[c.Room][c.ID] = c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[c.Room]; ok {
		if _, ok := clients[c.ID]; ok {
			delete(clients, c.ID)
			close(c.send)
		}
	}
}

// Count reports how many clients are connected to a room.
func (h *Hub) Count(room session.Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Group returns the dispatch-facing view of one room.
func (h *Hub) Group(room session.Room) *Group {
	return &Group{hub: h, room: room}
}

// Group exposes a single room's connections to the dispatcher.
type Group struct {
	hub  *Hub
	room session.Room
}

// Send hands the payload to one connection. Slow consumers are dropped
// rather than blocking the dispatcher.
//
// The send happens under the read lock: remove closes the channel under the
// write lock, so a concurrent disconnect cannot turn this into a send on a
// closed channel. The sends never block, so holding the lock is cheap.
func (g *Group) Send(connectionID string, payload []byte) bool {
	g.hub.mu.RLock()
	defer g.hub.mu.RUnlock()

	c, ok := g.hub.rooms[g.room][connectionID]
	if !ok {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Broadcast hands the payload to every connection in the room. Locking as
// in Send.
func (g *Group) Broadcast(payload []byte) int {
	g.hub.mu.RLock()
	defer g.hub.mu.RUnlock()

	sent := 0
	for _, c := range g.hub.rooms[g.room] {
		select {
		case c.send <- payload:
			sent++
		default:
		}
	}
	return sent
}

func (g *Group) Count() int {
	return g.hub.Count(g.room)
}
