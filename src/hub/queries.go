package hub

import (
	"github.com/orchestra-mcp/chatsync/src/types"
)

// OnConnection registers a callback for new connections. Callbacks run on
// the hub loop and must not block.
func (h *Hub) OnConnection(cb func(types.ClientInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback for disconnections.
func (h *Hub) OnDisconnection(cb func(types.ClientInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}

// OnMessage registers a callback for every confirmed chat message.
func (h *Hub) OnMessage(cb func(types.ChatMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = append(h.onMessage, cb)
}

// ConnectedClients returns a list of connected client IDs.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	info := client.Info()
	return &info
}

// Rooms returns active room names with their participant counts.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]int, len(h.rooms))
	for room, subs := range h.rooms {
		result[room] = len(subs)
	}
	return result
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
