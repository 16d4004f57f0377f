package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/orchestra-mcp/chatsync/src/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn implements types.Conn without a real websocket.
type mockConn struct {
	mu       sync.Mutex
	written  []any
	inbox    chan []byte
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		inbox:    make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-m.inbox:
		return data, nil
	case <-m.closedCh:
		return nil, errors.New("connection reset by peer")
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("write on closed connection")
	}
	m.written = append(m.written, v)
	return nil
}

func (m *mockConn) Ping() error { return nil }

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) getWritten() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]any, len(m.written))
	copy(cp, m.written)
	return cp
}

func (m *mockConn) push(t *testing.T, frame wire.Frame) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	m.inbox <- data
}

// mockDialer hands out mockConns. The first `fail` attempts are refused and
// attempts numbered blockFrom and later wait on release.
type mockDialer struct {
	mu        sync.Mutex
	targets   []Target
	conns     []*mockConn
	fail      int
	blockFrom int
	release   chan struct{}
}

func newMockDialer() *mockDialer {
	return &mockDialer{release: make(chan struct{})}
}

func (d *mockDialer) Dial(ctx context.Context, target Target) (types.Conn, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	n := len(d.targets)
	fail, blockFrom := d.fail, d.blockFrom
	d.mu.Unlock()

	if n <= fail {
		return nil, errors.New("connection refused")
	}
	if blockFrom > 0 && n >= blockFrom {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := newMockConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *mockDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *mockDialer) target(i int) Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targets[i]
}

func (d *mockDialer) conn(i int) *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// recorder collects events delivered by a Socket.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Event, len(r.events))
	copy(cp, r.events)
	return cp
}

func (r *recorder) states() []types.ConnectionState {
	var out []types.ConnectionState
	for _, ev := range r.all() {
		if ev.Type == EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

var alice = types.Identity{ID: "u-1", Name: "alice"}

func testConfig() *config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.Endpoint = "ws://chat.test"
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.DialTimeout = time.Second
	return cfg
}

func newTestSocket(t *testing.T, d Dialer, cfg *config.ClientConfig) (*Socket, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSocket(d, cfg, rec.handle, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close("test done") })
	return s, rec
}

func waitForState(t *testing.T, s *Socket, want types.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 2*time.Second, 2*time.Millisecond,
		"socket never reached %s (now %s)", want, s.State())
}

func TestSocketConnectOpens(t *testing.T) {
	d := newMockDialer()
	s, rec := newTestSocket(t, d, testConfig())

	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)

	require.Eventually(t, func() bool { return len(rec.ofType(EventConnected)) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []types.ConnectionState{types.StateConnecting, types.StateOpen}, rec.states())

	target := d.target(0)
	assert.Equal(t, "audit", target.RoomID)
	assert.Equal(t, alice, target.Identity)
	assert.NotEmpty(t, target.CorrelationID)
}

func TestSocketConnectRequiresRoomAndIdentity(t *testing.T) {
	d := newMockDialer()
	s, _ := newTestSocket(t, d, testConfig())

	assert.ErrorIs(t, s.Connect("", alice), ErrIdentityMissing)
	assert.ErrorIs(t, s.Connect("audit", types.Identity{}), ErrIdentityMissing)
	assert.Equal(t, types.StateIdle, s.State())
	assert.Equal(t, 0, d.attempts())
}

func TestSocketConnectBinding(t *testing.T) {
	d := newMockDialer()
	s, _ := newTestSocket(t, d, testConfig())

	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)

	assert.NoError(t, s.Connect("audit", alice))
	assert.ErrorIs(t, s.Connect("finance", alice), ErrTargetMismatch)
	assert.ErrorIs(t, s.Connect("audit", types.Identity{Name: "bob"}), ErrTargetMismatch)
	assert.Equal(t, 1, d.attempts())
}

func TestSocketSendRequiresOpen(t *testing.T) {
	s, _ := newTestSocket(t, newMockDialer(), testConfig())

	err := s.Send(types.ChatMessage{ID: "m1", Content: "early"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSocketSendWritesMessage(t *testing.T) {
	d := newMockDialer()
	s, _ := newTestSocket(t, d, testConfig())
	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)

	msg := types.ChatMessage{ID: "m1", Content: "hello", Sender: alice.Sender(), RoomID: "audit", CreatedAt: time.Now()}
	require.NoError(t, s.Send(msg))

	written := d.conn(0).getWritten()
	require.Len(t, written, 1)
	assert.Equal(t, msg, written[0])
}

func TestSocketDeliversFrames(t *testing.T) {
	d := newMockDialer()
	s, rec := newTestSocket(t, d, testConfig())
	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	old := types.ChatMessage{ID: "old", Content: "earlier", Sender: types.Sender{Name: "bob"}, RoomID: "audit", CreatedAt: at}
	conn := d.conn(0)
	conn.push(t, wire.SnapshotFrame([]types.ChatMessage{old}))
	conn.push(t, wire.PresenceFrame(true, "bob", at))
	conn.push(t, wire.MessageFrame(types.ChatMessage{ID: "new", Content: "now", Sender: types.Sender{Name: "bob"}, RoomID: "audit", CreatedAt: at.Add(time.Minute)}))

	require.Eventually(t, func() bool { return len(rec.ofType(EventMessage)) == 1 }, time.Second, 2*time.Millisecond)

	snaps := rec.ofType(EventSnapshot)
	require.Len(t, snaps, 1)
	assert.Equal(t, []types.ChatMessage{old}, snaps[0].Messages)

	notices := rec.ofType(EventNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, types.NoticeUserJoined, notices[0].Notice.Kind)
	assert.Equal(t, "bob", notices[0].Notice.User)

	assert.Equal(t, "new", rec.ofType(EventMessage)[0].Messages[0].ID)
	assert.Equal(t, types.StateOpen, rec.ofType(EventMessage)[0].State)
}

func TestSocketMalformedFrameKeepsConnection(t *testing.T) {
	d := newMockDialer()
	s, rec := newTestSocket(t, d, testConfig())
	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)

	conn := d.conn(0)
	conn.inbox <- []byte("{not json")
	conn.push(t, wire.SystemFrame("still here", time.Now()))

	require.Eventually(t, func() bool { return len(rec.ofType(EventNotice)) == 1 }, time.Second, 2*time.Millisecond)

	errs := rec.ofType(EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, wire.ErrMalformedFrame)
	assert.Equal(t, types.StateOpen, s.State())
	assert.Equal(t, 1, d.attempts())
	assert.False(t, conn.isClosed())
}

func TestSocketReconnectsAfterAbruptDisconnect(t *testing.T) {
	d := newMockDialer()
	d.blockFrom = 2
	s, rec := newTestSocket(t, d, testConfig())

	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)

	// The peer vanishes; the owner never calls Connect again.
	require.NoError(t, d.conn(0).Close())

	waitForState(t, s, types.StateConnecting)
	require.Eventually(t, func() bool { return d.attempts() == 2 && len(rec.states()) == 4 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []types.ConnectionState{
		types.StateConnecting, types.StateOpen, types.StateReconnecting, types.StateConnecting,
	}, rec.states())

	disc := rec.ofType(EventDisconnected)
	require.Len(t, disc, 1)
	assert.True(t, IsConnectionFailure(disc[0].Err))

	assert.ErrorIs(t, s.Send(types.ChatMessage{ID: "offline"}), ErrNotConnected)

	close(d.release)
	waitForState(t, s, types.StateOpen)
	require.Eventually(t, func() bool { return len(rec.ofType(EventConnected)) == 2 }, time.Second, 2*time.Millisecond)
	assert.NotEqual(t, d.target(0).CorrelationID, d.target(1).CorrelationID)
}

func TestSocketRetriesFailedHandshake(t *testing.T) {
	d := newMockDialer()
	d.fail = 2
	s, rec := newTestSocket(t, d, testConfig())

	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)
	require.Eventually(t, func() bool { return len(rec.ofType(EventConnected)) == 1 }, time.Second, 2*time.Millisecond)

	assert.Equal(t, 3, d.attempts())
	errs := rec.ofType(EventError)
	require.Len(t, errs, 2)
	for _, ev := range errs {
		assert.True(t, IsConnectionFailure(ev.Err))
	}
}

func TestSocketCloseCancelsPendingReconnect(t *testing.T) {
	d := newMockDialer()
	d.fail = 1 << 30
	cfg := testConfig()
	cfg.ReconnectDelay = 30 * time.Millisecond
	s, rec := newTestSocket(t, d, cfg)

	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateReconnecting)

	require.NoError(t, s.Close("user left"))
	assert.Equal(t, types.StateIdle, s.State())

	// Let anything already in flight settle before sampling.
	time.Sleep(10 * time.Millisecond)
	attempts := d.attempts()
	delivered := len(rec.all())
	time.Sleep(4 * cfg.ReconnectDelay)

	assert.Equal(t, attempts, d.attempts(), "no reconnection after close")
	assert.Equal(t, delivered, len(rec.all()), "no events after close")
	assert.Equal(t, types.StateIdle, s.State())
}

func TestSocketCloseDuringDialDiscardsResult(t *testing.T) {
	d := newMockDialer()
	d.blockFrom = 1
	s, rec := newTestSocket(t, d, testConfig())

	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateConnecting)
	require.Eventually(t, func() bool { return d.attempts() == 1 }, time.Second, 2*time.Millisecond)

	require.NoError(t, s.Close("abandon"))
	close(d.release)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, types.StateIdle, s.State())
	assert.Empty(t, rec.ofType(EventConnected))
	assert.Empty(t, rec.ofType(EventError))
}

func TestSocketCloseIsTerminalAndIdempotent(t *testing.T) {
	d := newMockDialer()
	s, _ := newTestSocket(t, d, testConfig())
	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateOpen)

	require.NoError(t, s.Close("done"))
	require.NoError(t, s.Close("again"))
	assert.True(t, d.conn(0).isClosed())
	assert.ErrorIs(t, s.Connect("audit", alice), ErrSocketClosed)
	assert.ErrorIs(t, s.Send(types.ChatMessage{ID: "late"}), ErrNotConnected)
}

func TestSocketInvalidEndpointFails(t *testing.T) {
	d := newMockDialer()
	cfg := testConfig()
	cfg.Endpoint = "http://chat.test"
	s, rec := newTestSocket(t, d, cfg)

	require.NoError(t, s.Connect("audit", alice))
	waitForState(t, s, types.StateFailed)

	time.Sleep(3 * cfg.ReconnectDelay)
	assert.Equal(t, 0, d.attempts())
	require.Eventually(t, func() bool { return len(rec.ofType(EventError)) == 1 }, time.Second, 2*time.Millisecond)
	assert.ErrorIs(t, rec.ofType(EventError)[0].Err, ErrInvalidEndpoint)
}

func TestTargetURL(t *testing.T) {
	target := Target{
		Endpoint:      "wss://chat.example.com/base",
		CorrelationID: "c1",
		RoomID:        "audit room",
		Identity:      types.Identity{Name: "a/b"},
	}
	u, err := target.URL()
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/base/ws/c1/audit%20room/a%2Fb", u)

	for _, endpoint := range []string{"http://chat.example.com", "ws://", "::bad"} {
		target.Endpoint = endpoint
		_, err := target.URL()
		assert.ErrorIs(t, err, ErrInvalidEndpoint, endpoint)
	}
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "snapshot", EventSnapshot.String())
	assert.True(t, strings.HasPrefix(EventType(99).String(), "unknown"))
}
