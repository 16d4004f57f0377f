package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/orchestra-mcp/chatsync/src/wire"
)

// Client wraps one participant's WebSocket connection to a room.
type Client struct {
	ID     string
	RoomID string
	Name   string

	conn        types.Conn
	hub         *Hub
	Send        chan wire.Frame
	connectedAt time.Time
	mu          sync.Mutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a client for the participant name in roomID. id is the
// per-connection id taken from the upgrade path.
func NewClient(id, roomID, name string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		RoomID:      roomID,
		Name:        name,
		conn:        conn,
		hub:         h,
		Send:        make(chan wire.Frame, h.cfg.SendBuffer),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	return types.ClientInfo{
		ID:          c.ID,
		RoomID:      c.RoomID,
		Name:        c.Name,
		ConnectedAt: c.connectedAt,
	}
}

// ReadPump reads chat messages from the WebSocket and routes them to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.DecodeMessage(data)
		if err != nil {
			c.hub.logger.Warn().Err(err).Str("client_id", c.ID).Msg("invalid message from client")
			continue
		}
		select {
		case c.hub.incoming <- inbound{client: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump writes queued frames to the WebSocket and keeps it alive with
// periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.Send:
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps. Send is left open; only the
// hub loop writes to it.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
