// Package transport maintains a single self-healing websocket connection to a
// chat room and exposes it as an ordered stream of events.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/orchestra-mcp/chatsync/src/wire"
	"github.com/rs/zerolog"
)

// EventType names a socket event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventConnected
	EventMessage
	EventSnapshot
	EventNotice
	EventDisconnected
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventSnapshot:
		return "snapshot"
	case EventNotice:
		return "notice"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by a Socket. State is the socket state at emission time.
type Event struct {
	Type     EventType
	State    types.ConnectionState
	Messages []types.ChatMessage
	Notice   *types.Notice
	Err      error
}

// Handler receives socket events, one at a time and in emission order.
type Handler func(Event)

var newCorrelationID = mustCorrelationGenerator()

func mustCorrelationGenerator() func() string {
	gen, err := nanoid.Standard(21)
	if err != nil {
		panic(err)
	}
	return gen
}

// Socket owns at most one live connection to one room for one identity and
// re-establishes it after unexpected loss. A Socket is single use: once
// closed it never connects again.
type Socket struct {
	dialer Dialer
	cfg    *config.ClientConfig
	logger zerolog.Logger

	mu         sync.Mutex
	state      types.ConnectionState
	roomID     string
	identity   types.Identity
	conn       types.Conn
	attempt    uint64
	retry      *time.Timer
	cancelDial context.CancelFunc
	closed     bool

	handler Handler
	queue   []Event
	wake    chan struct{}
	done    chan struct{}
	started bool

	writeMu sync.Mutex
}

// NewSocket creates an idle socket. handler may be nil.
func NewSocket(dialer Dialer, cfg *config.ClientConfig, handler Handler, logger zerolog.Logger) *Socket {
	if handler == nil {
		handler = func(Event) {}
	}
	return &Socket{
		dialer:  dialer,
		cfg:     cfg,
		logger:  logger.With().Str("component", "socket").Logger(),
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Socket) State() types.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts connecting to roomID as identity. Completion is reported
// through events. Connecting again with the same binding is a no-op.
func (s *Socket) Connect(roomID string, identity types.Identity) error {
	if roomID == "" || identity.Name == "" {
		return ErrIdentityMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSocketClosed
	}
	if s.state != types.StateIdle {
		if s.roomID == roomID && s.identity == identity {
			return nil
		}
		return ErrTargetMismatch
	}

	s.roomID = roomID
	s.identity = identity
	s.logger = s.logger.With().Str("room_id", roomID).Str("participant", identity.Name).Logger()
	if !s.started {
		s.started = true
		go s.dispatch()
	}
	s.beginAttempt()
	return nil
}

// Send writes msg to the open connection. It never queues: outside the Open
// state it fails with ErrNotConnected.
func (s *Socket) Send(msg types.ChatMessage) error {
	s.mu.Lock()
	if s.state != types.StateOpen || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// Close shuts the socket down for good. Pending reconnects and in-flight
// dials are cancelled and no further events are delivered. Close is
// idempotent.
func (s *Socket) Close(reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.attempt++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = types.StateClosing
	s.queue = nil
	close(s.done)
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	s.mu.Lock()
	s.state = types.StateIdle
	s.mu.Unlock()

	s.logger.Debug().Str("reason", reason).Msg("socket closed")
	return err
}

// beginAttempt starts a new connection attempt. Caller holds s.mu.
func (s *Socket) beginAttempt() {
	s.attempt++
	attempt := s.attempt

	target := Target{
		Endpoint:      s.cfg.Endpoint,
		CorrelationID: newCorrelationID(),
		RoomID:        s.roomID,
		Identity:      s.identity,
	}
	if _, err := target.URL(); err != nil {
		s.logger.Error().Err(err).Str("endpoint", s.cfg.Endpoint).Msg("cannot build connection target")
		s.setState(types.StateFailed)
		s.emit(Event{Type: EventError, Err: err})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	s.cancelDial = cancel
	s.setState(types.StateConnecting)
	s.logger.Debug().Uint64("attempt", attempt).Str("correlation_id", target.CorrelationID).Msg("connecting")
	go s.dial(ctx, cancel, attempt, target)
}

func (s *Socket) dial(ctx context.Context, cancel context.CancelFunc, attempt uint64, target Target) {
	conn, err := s.dialer.Dial(ctx, target)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || attempt != s.attempt {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.cancelDial = nil

	if err != nil {
		s.logger.Warn().Err(err).Uint64("attempt", attempt).Msg("connection attempt failed")
		s.emit(Event{Type: EventError, Err: &ConnectionError{Op: "dial", Err: err}})
		s.scheduleRetry()
		return
	}

	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.setState(types.StateOpen)
	s.emit(Event{Type: EventConnected})
	s.logger.Info().Uint64("attempt", attempt).Msg("connected")
	go s.readLoop(attempt, conn)
}

func (s *Socket) readLoop(attempt uint64, conn types.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.lost(attempt, conn, err)
			return
		}

		in, err := wire.DecodeFrame(data)
		if err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			s.deliver(attempt, Event{Type: EventError, Err: err})
			continue
		}
		if in.Dropped > 0 {
			s.logger.Warn().Int("dropped", in.Dropped).Msg("snapshot contained invalid messages")
		}
		s.deliver(attempt, frameEvent(in))
	}
}

func frameEvent(in wire.Inbound) Event {
	switch in.Type {
	case wire.FrameMessage:
		return Event{Type: EventMessage, Messages: in.Messages}
	case wire.FramePreviousMessages:
		return Event{Type: EventSnapshot, Messages: in.Messages}
	default:
		return Event{Type: EventNotice, Notice: in.Notice}
	}
}

// deliver emits ev unless attempt has been superseded.
func (s *Socket) deliver(attempt uint64, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || attempt != s.attempt {
		return
	}
	s.emit(ev)
}

// lost handles the loss of an open connection that was not closed by Close.
func (s *Socket) lost(attempt uint64, conn types.Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || attempt != s.attempt || s.conn != conn {
		return
	}
	_ = conn.Close()
	s.conn = nil

	cerr := &ConnectionError{Op: "read", Err: err}
	s.logger.Warn().Err(err).Uint64("attempt", attempt).Msg("connection lost")
	s.scheduleRetry()
	s.emit(Event{Type: EventDisconnected, Err: cerr})
}

// scheduleRetry moves to Reconnecting and arms the retry timer. Caller holds s.mu.
func (s *Socket) scheduleRetry() {
	s.setState(types.StateReconnecting)
	attempt := s.attempt
	s.retry = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.reconnect(attempt)
	})
}

func (s *Socket) reconnect(attempt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || attempt != s.attempt || s.state != types.StateReconnecting {
		return
	}
	s.retry = nil
	s.beginAttempt()
}

// setState records a transition and emits it. Caller holds s.mu.
func (s *Socket) setState(st types.ConnectionState) {
	if s.state == st {
		return
	}
	s.state = st
	s.emit(Event{Type: EventStateChanged})
}

// emit queues ev for the dispatcher. Caller holds s.mu.
func (s *Socket) emit(ev Event) {
	ev.State = s.state
	s.queue = append(s.queue, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued events to the handler outside the lock.
func (s *Socket) dispatch() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.safeHandle(ev)
		}
	}
}

func (s *Socket) safeHandle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event", ev.Type.String()).Msg("event handler panicked")
		}
	}()
	s.handler(ev)
}

// IsConnectionFailure reports whether err is a recoverable connection failure.
func IsConnectionFailure(err error) bool {
	var cerr *ConnectionError
	return errors.As(err, &cerr)
}
