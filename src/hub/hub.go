package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/orchestra-mcp/chatsync/src/wire"
	"github.com/rs/zerolog"
)

// MessageBridge publishes room frames to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(room string, frame wire.Frame) error
	Available() bool
}

// Hub manages chat room connections, room history and fan-out.
type Hub struct {
	cfg     *config.ServerConfig
	clients map[string]*Client
	rooms   map[string]map[string]bool // room -> set of clientIDs
	history map[string][]types.ChatMessage
	owners  map[string]map[string]string // room -> message id -> participant name

	register   chan *Client
	unregister chan *Client
	incoming   chan inbound
	broadcast  chan broadcastMsg
	localCast  chan relayedFrame // frames from the bridge, no re-publish

	onConnect []func(types.ClientInfo)
	onDisconn []func(types.ClientInfo)
	onMessage []func(types.ChatMessage)

	bridge MessageBridge

	now    func() time.Time
	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
	stop   sync.Once
}

type inbound struct {
	client *Client
	msg    types.ChatMessage
}

type broadcastMsg struct {
	room  string
	frame wire.Frame
}

type relayedFrame struct {
	room string
	data []byte
}

// New creates a new Hub instance.
func New(cfg *config.ServerConfig, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]bool),
		history:    make(map[string][]types.ChatMessage),
		owners:     make(map[string]map[string]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan inbound, 256),
		broadcast:  make(chan broadcastMsg, 256),
		localCast:  make(chan relayedFrame, 256),
		now:        time.Now,
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case in := <-h.incoming:
			h.handleMessage(in.client, in.msg)
		case bm := <-h.broadcast:
			h.publish(bm.room, bm.frame)
		case rf := <-h.localCast:
			h.relay(rf.room, rf.data)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop halts the hub event loop and closes every client. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

// SetBridge attaches a cross-instance bridge to the hub. When set, room
// frames are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastToLocal delivers an encoded frame from the bridge to local
// participants only. It does not re-publish, preventing loops.
func (h *Hub) BroadcastToLocal(room string, frame []byte) {
	select {
	case h.localCast <- relayedFrame{room: room, data: frame}:
	case <-h.done:
	}
}

// Register queues a client for registration.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	old := h.clients[c.ID]
	h.mu.Unlock()
	if old != nil {
		h.logger.Warn().Str("client_id", c.ID).Msg("client id reused, dropping previous connection")
		h.removeClient(old)
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[string]bool)
	}
	h.rooms[c.RoomID][c.ID] = true
	snapshot := h.recentLocked(c.RoomID)
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Str("room_id", c.RoomID).Str("participant", c.Name).Msg("client registered")

	h.publish(c.RoomID, wire.PresenceFrame(true, c.Name, h.now()))
	h.sendTo(c, wire.SnapshotFrame(snapshot))

	for _, cb := range h.onConnect {
		cb(c.Info())
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.ID]; !ok || cur != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	if subs, ok := h.rooms[c.RoomID]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
	h.mu.Unlock()

	c.Close()
	h.logger.Info().Str("client_id", c.ID).Str("room_id", c.RoomID).Msg("client unregistered")

	h.publish(c.RoomID, wire.PresenceFrame(false, c.Name, h.now()))

	for _, cb := range h.onDisconn {
		cb(c.Info())
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// handleMessage confirms a client message and fans it out to the whole room,
// the sender included.
func (h *Hub) handleMessage(c *Client, msg types.ChatMessage) {
	if msg.Content == "" && len(msg.Metadata) == 0 {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = types.MessageText
	}
	msg.Sender = types.Sender{ID: c.ID, Name: c.Name}
	msg.RoomID = c.RoomID
	msg.CreatedAt = h.now().UTC()

	h.mu.Lock()
	if owner, taken := h.owners[c.RoomID][msg.ID]; taken {
		if owner == c.Name {
			h.mu.Unlock()
			h.logger.Debug().Str("client_id", c.ID).Str("message_id", msg.ID).Msg("duplicate message id, dropping")
			return
		}
		// Ids are unique per room; another participant cannot claim one.
		msg.ID = uuid.NewString()
	}
	h.appendHistoryLocked(msg)
	h.mu.Unlock()

	h.publish(c.RoomID, wire.MessageFrame(msg))

	for _, cb := range h.onMessage {
		cb(msg)
	}
}

// appendHistoryLocked keeps the last HistoryLimit messages per room and
// records which participant owns each retained id.
func (h *Hub) appendHistoryLocked(msg types.ChatMessage) {
	owners := h.owners[msg.RoomID]
	if owners == nil {
		owners = make(map[string]string)
		h.owners[msg.RoomID] = owners
	}
	owners[msg.ID] = msg.Sender.Name

	hist := append(h.history[msg.RoomID], msg)
	if limit := h.cfg.HistoryLimit; limit > 0 && len(hist) > limit {
		for _, old := range hist[:len(hist)-limit] {
			delete(owners, old.ID)
		}
		hist = append([]types.ChatMessage(nil), hist[len(hist)-limit:]...)
	}
	h.history[msg.RoomID] = hist
}

func (h *Hub) recentLocked(room string) []types.ChatMessage {
	return append([]types.ChatMessage{}, h.history[room]...)
}
