package hub

import (
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/orchestra-mcp/chatsync/src/wire"
)

func (h *Hub) broadcastToRoom(room string, frame wire.Frame) {
	h.mu.RLock()
	subs, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Copy clients to avoid holding the lock during sends.
	clients := make([]*Client, 0, len(subs))
	for id := range subs {
		if c, exists := h.clients[id]; exists {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.sendTo(c, frame)
	}
}

// publish fans frame out locally and to the bridge, if any.
func (h *Hub) publish(room string, frame wire.Frame) {
	h.publishToBridge(room, frame)
	h.broadcastToRoom(room, frame)
}

func (h *Hub) publishToBridge(room string, frame wire.Frame) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(room, frame); err != nil {
		h.logger.Error().Err(err).Str("room_id", room).Msg("bridge publish failed")
	}
}

// relay handles a frame published by another instance. Relayed chat
// messages are kept in local history so later joiners here see them too.
func (h *Hub) relay(room string, data []byte) {
	in, err := wire.DecodeFrame(data)
	if err != nil {
		h.logger.Warn().Err(err).Str("room_id", room).Msg("dropping relayed frame")
		return
	}
	switch {
	case in.Type == wire.FrameMessage:
		for _, msg := range in.Messages {
			msg.RoomID = room
			h.mu.Lock()
			if _, taken := h.owners[room][msg.ID]; taken {
				h.mu.Unlock()
				h.logger.Warn().Str("room_id", room).Str("message_id", msg.ID).Msg("relayed message id already in use, dropping")
				continue
			}
			h.appendHistoryLocked(msg)
			h.mu.Unlock()
			h.broadcastToRoom(room, wire.MessageFrame(msg))
		}
	case in.Notice != nil:
		h.broadcastToRoom(room, wire.NoticeFrame(*in.Notice))
	}
}

func (h *Hub) sendTo(c *Client, frame wire.Frame) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		h.logger.Warn().Str("client_id", c.ID).Str("frame", string(frame.Type)).Msg("send buffer full, dropping")
		return false
	}
}

// Announce sends a system notice to everyone in room.
func (h *Hub) Announce(room, text string) {
	frame := wire.SystemFrame(text, h.now())
	select {
	case h.broadcast <- broadcastMsg{room: room, frame: frame}:
	case <-h.done:
	}
}

// History returns the retained messages of room, oldest first.
func (h *Hub) History(room string) []types.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.recentLocked(room)
}
