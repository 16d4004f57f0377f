// Package session binds a chat room and a participant identity to one
// transport socket and exposes the merged message view to the UI.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/reconcile"
	"github.com/orchestra-mcp/chatsync/src/transport"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// View is what the presentation layer renders. Messages must be treated as
// read-only; it is replaced, never mutated, on every merge.
type View struct {
	RoomID   string
	Identity types.Identity
	State    types.ConnectionState
	Messages []types.ChatMessage
	Notices  []types.Notice
}

// roomSession is the state of one (room, identity) binding. It is discarded
// on deactivation and never reused.
type roomSession struct {
	generation uint64
	roomID     string
	identity   types.Identity
	socket     *transport.Socket
	state      types.ConnectionState

	local   []types.ChatMessage
	remote  []types.ChatMessage
	merged  []types.ChatMessage
	notices []types.Notice
}

func (rs *roomSession) remerge() {
	rs.merged = reconcile.Merge(rs.local, rs.remote)
}

// Controller manages the active room session.
type Controller struct {
	dialer transport.Dialer
	cfg    *config.ClientConfig
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	generation uint64
	current    *roomSession
	changes    chan struct{}
}

// New creates a controller with no active session.
func New(dialer transport.Dialer, cfg *config.ClientConfig, logger zerolog.Logger) *Controller {
	return &Controller{
		dialer:  dialer,
		cfg:     cfg,
		logger:  logger.With().Str("component", "room-session").Logger(),
		now:     time.Now,
		changes: make(chan struct{}, 1),
	}
}

// Changes signals that Snapshot would return something new. Signals are
// coalesced; receivers should call Snapshot after each one.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) signal() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Activate binds the controller to roomID and identity. An unchanged binding
// is a no-op. Any other binding replaces the current session with a fresh
// one. Without a room or identity name the session stays Idle and nothing
// is dialed.
func (c *Controller) Activate(roomID string, identity types.Identity) {
	c.mu.Lock()
	if cur := c.current; cur != nil && cur.roomID == roomID && cur.identity == identity {
		c.mu.Unlock()
		return
	}
	old := c.current
	c.generation++
	rs := &roomSession{
		generation: c.generation,
		roomID:     roomID,
		identity:   identity,
		state:      types.StateIdle,
	}
	if roomID != "" && identity.Name != "" {
		gen := rs.generation
		rs.socket = transport.NewSocket(c.dialer, c.cfg, func(ev transport.Event) {
			c.apply(gen, ev)
		}, c.logger)
	}
	c.current = rs
	c.mu.Unlock()

	c.closeSession(old, "rebind")

	if rs.socket == nil {
		c.logger.Debug().Str("room_id", roomID).Msg("room or identity missing, staying idle")
	} else if err := rs.socket.Connect(roomID, identity); err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("connect failed")
	}
	c.signal()
}

// Deactivate closes the current session and discards its messages.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	old := c.current
	c.current = nil
	c.generation++
	c.mu.Unlock()

	if old == nil {
		return
	}
	c.closeSession(old, "deactivated")
	c.signal()
}

func (c *Controller) closeSession(rs *roomSession, reason string) {
	if rs == nil || rs.socket == nil {
		return
	}
	if err := rs.socket.Close(reason); err != nil {
		c.logger.Debug().Err(err).Str("room_id", rs.roomID).Msg("socket close")
	}
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs := c.current
	if rs == nil {
		return View{State: types.StateIdle, Messages: []types.ChatMessage{}}
	}
	messages := rs.merged
	if messages == nil {
		messages = []types.ChatMessage{}
	}
	return View{
		RoomID:   rs.roomID,
		Identity: rs.identity,
		State:    rs.state,
		Messages: messages,
		Notices:  append([]types.Notice(nil), rs.notices...),
	}
}

// Send sends a plain text message.
func (c *Controller) Send(content string) (types.ChatMessage, error) {
	return c.SendDraft(Draft{Content: content})
}

// SendDraft shows the message locally right away and then hands it to the
// transport. Delivery is best effort: a message sent while disconnected stays
// visible locally but is not retried.
func (c *Controller) SendDraft(d Draft) (types.ChatMessage, error) {
	if err := d.Validate(); err != nil {
		return types.ChatMessage{}, err
	}
	if d.Type == "" {
		d.Type = types.MessageText
	}

	c.mu.Lock()
	rs := c.current
	if rs == nil || rs.socket == nil {
		c.mu.Unlock()
		return types.ChatMessage{}, ErrNoSession
	}
	msg := types.ChatMessage{
		ID:        uuid.NewString(),
		Content:   d.Content,
		Sender:    rs.identity.Sender(),
		RoomID:    rs.roomID,
		CreatedAt: c.now().UTC(),
		Type:      d.Type,
		Metadata:  d.Metadata,
		ReplyTo:   d.ReplyTo,
	}
	rs.local = append(rs.local, msg)
	rs.remerge()
	sock := rs.socket
	c.mu.Unlock()
	c.signal()

	if err := sock.Send(msg); err != nil {
		ev := c.logger.Warn()
		if !errors.Is(err, transport.ErrNotConnected) && !transport.IsConnectionFailure(err) {
			ev = c.logger.Error()
		}
		ev.Err(err).Str("message_id", msg.ID).Msg("message kept locally, not delivered")
	}
	return msg, nil
}

// apply folds a socket event into the session with the given generation.
// Events from a replaced or closed session are dropped.
func (c *Controller) apply(generation uint64, ev transport.Event) {
	c.mu.Lock()
	rs := c.current
	if rs == nil || rs.generation != generation {
		c.mu.Unlock()
		c.logger.Debug().Uint64("generation", generation).Str("event", ev.Type.String()).Msg("dropping stale event")
		return
	}

	rs.state = ev.State
	switch ev.Type {
	case transport.EventMessage:
		rs.remote = append(rs.remote, ev.Messages...)
		rs.remerge()
	case transport.EventSnapshot:
		// A snapshot follows every (re)connect; fold it into a compact set.
		rs.remote = reconcile.Merge(nil, append(rs.remote, ev.Messages...))
		rs.remerge()
	case transport.EventNotice:
		if ev.Notice != nil {
			rs.notices = appendBounded(rs.notices, *ev.Notice, c.cfg.NoticeLimit)
		}
	}
	c.mu.Unlock()

	switch ev.Type {
	case transport.EventError:
		c.logger.Warn().Err(ev.Err).Str("state", ev.State.String()).Msg("transport error")
	case transport.EventDisconnected:
		c.logger.Info().Err(ev.Err).Msg("disconnected, reconnecting")
	}
	c.signal()
}

func appendBounded(notices []types.Notice, n types.Notice, limit int) []types.Notice {
	notices = append(notices, n)
	if limit > 0 && len(notices) > limit {
		notices = append([]types.Notice(nil), notices[len(notices)-limit:]...)
	}
	return notices
}
