package ws

import (
	"log"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"forumchat/internal/service"
)

// Hub tracks which clients are listening to which room and fans events out
// to them. It is a per-process view of live connections only.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int64]map[string]*Client
}

var _ service.Broadcaster = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int64]map[string]*Client),
	}
}

// Join adds c to its room's group. Closed clients are refused so a late
// join can never resurrect a finished session.
func (h *Hub) Join(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.Closed() {
		return false
	}
	group := h.rooms[c.RoomID]
	if group == nil {
		group = make(map[string]*Client)
		h.rooms[c.RoomID] = group
	}
	group[c.ID] = c
	return true
}

// Leave removes c from its room's group.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if group, ok := h.rooms[c.RoomID]; ok {
		delete(group, c.ID)
		if len(group) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
}

// Publish sends an event to every client in the room.
func (h *Hub) Publish(roomID int64, eventType string, data any) {
	h.publish(roomID, eventType, data, "")
}

// publish skips the client with id except, if any.
func (h *Hub) publish(roomID int64, eventType string, data any, except string) int {
	payload, err := encodeFrame(roomID, eventType, data)
	if err != nil {
		log.Printf("ws: encode %s for room %d: %v", eventType, roomID, err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, c := range h.rooms[roomID] {
		if id == except {
			continue
		}
		if c.Send(payload) {
			delivered++
		}
	}
	return delivered
}

// Presence returns the distinct identities connected to the room.
func (h *Hub) Presence(roomID int64) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]int64, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		if c.Closed() {
			continue
		}
		if id := c.Identity().ID; !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Connected reports whether identityID has a live client in the room.
func (h *Hub) Connected(roomID, identityID int64) bool {
	return slices.Contains(h.Presence(roomID), identityID)
}

// Close ends every session. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	var clients []*Client
	for _, group := range h.rooms {
		for _, c := range group {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[int64]map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.CloseWith(websocket.CloseGoingAway, "server shutdown")
	}
}
