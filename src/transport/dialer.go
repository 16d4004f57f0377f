package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
)

// Target addresses one connection attempt.
type Target struct {
	Endpoint      string
	CorrelationID string
	RoomID        string
	Identity      types.Identity
}

// URL renders the websocket URL {endpoint}/ws/{correlation}/{room}/{name}.
func (t Target) URL() (string, error) {
	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	u = u.JoinPath("ws",
		url.PathEscape(t.CorrelationID),
		url.PathEscape(t.RoomID),
		url.PathEscape(t.Identity.Name),
	)
	return u.String(), nil
}

// Dialer opens the underlying connection for a target.
type Dialer interface {
	Dial(ctx context.Context, target Target) (types.Conn, error)
}

// WSDialer dials chat servers over websocket.
type WSDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readTimeout  time.Duration
}

// NewWSDialer creates a websocket dialer from client settings.
func NewWSDialer(cfg *config.ClientConfig) *WSDialer {
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		},
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.ReadTimeout,
	}
}

// WithNetDial replaces the network dial function, e.g. for in-memory listeners.
func (d *WSDialer) WithNetDial(fn func(ctx context.Context, network, addr string) (net.Conn, error)) *WSDialer {
	d.dialer.NetDialContext = fn
	d.dialer.Proxy = nil
	return d
}

// Dial performs the websocket handshake.
func (d *WSDialer) Dial(ctx context.Context, target Target) (types.Conn, error) {
	u, err := target.URL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := d.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake %s: status %d: %w", u, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return WrapConn(conn, d.writeTimeout, d.readTimeout), nil
}

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

// WrapConn adapts a websocket connection to types.Conn. Every read, ping or
// pong pushes the read deadline readTimeout into the future; zero disables
// it. Both the client dialer and the chat server use it.
func WrapConn(conn *websocket.Conn, writeTimeout, readTimeout time.Duration) types.Conn {
	c := &wsConn{conn: conn, writeTimeout: writeTimeout, readTimeout: readTimeout}
	conn.SetPongHandler(func(string) error {
		c.extendRead()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		c.extendRead()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})
	return c
}

func (c *wsConn) extendRead() {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	c.extendRead()
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	return c.conn.Close()
}
