package providers

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/chatsync/src/hub"
	"github.com/orchestra-mcp/chatsync/src/transport"
	"github.com/valyala/fasthttp"
)

const wsPrefix = "/ws/"

// RegisterRoutes registers the admin routes via Fiber. The WebSocket upgrade
// is served by Handler since Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *ChatServer) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", p.handleInfo)

	api := group.Group("/api")
	api.Get("/rooms", p.handleRooms)
	api.Get("/rooms/:room/history", p.handleHistory)
	api.Post("/rooms/:room/announce", p.handleAnnounce)
	api.Get("/clients", p.handleClients)
	api.Get("/clients/:id", p.handleClient)
}

// Handler returns the fasthttp handler serving both WebSocket upgrades at
// /ws/{client_id}/{room}/{username} and the Fiber admin routes.
func (p *ChatServer) Handler() fasthttp.RequestHandler {
	appHandler := p.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if clientID, room, name, ok := parseWSPath(ctx.URI().PathOriginal()); ok {
			p.serveWS(ctx, clientID, room, name)
			return
		}
		appHandler(ctx)
	}
}

func (p *ChatServer) serveWS(ctx *fasthttp.RequestCtx, clientID, room, name string) {
	if !websocket.FastHTTPIsWebSocketUpgrade(ctx) {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	h := p.hub
	writeTimeout := p.cfg.WriteTimeout
	readTimeout := 2 * p.cfg.PingInterval
	readLimit := p.cfg.MaxMessageSize

	err := p.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		conn.SetReadLimit(readLimit)
		client := hub.NewClient(clientID, room, name, transport.WrapConn(conn, writeTimeout, readTimeout), h)
		h.Register(client)
		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		p.logger.Error().Err(err).Str("client_id", clientID).Msg("websocket upgrade failed")
	}
}

// parseWSPath splits /ws/{client_id}/{room}/{username}. Segments are
// unescaped individually so encoded slashes stay inside a segment.
func parseWSPath(path []byte) (clientID, room, name string, ok bool) {
	if !bytes.HasPrefix(path, []byte(wsPrefix)) {
		return "", "", "", false
	}
	parts := strings.Split(string(path[len(wsPrefix):]), "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	out := make([]string, 3)
	for i, part := range parts {
		v, err := url.PathUnescape(part)
		if err != nil || strings.TrimSpace(v) == "" {
			return "", "", "", false
		}
		out[i] = v
	}
	return out[0], out[1], out[2], true
}
