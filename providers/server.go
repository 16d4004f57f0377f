// Package providers assembles the reference chat server: hub, service,
// optional Redis bridge, websocket endpoint and admin routes.
package providers

import (
	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/bridge"
	"github.com/orchestra-mcp/chatsync/src/hub"
	"github.com/orchestra-mcp/chatsync/src/service"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// Version of the reference chat server.
const Version = "0.1.0"

// ChatServer wires the room hub to HTTP and WebSocket transports.
type ChatServer struct {
	active   bool
	cfg      *config.ServerConfig
	redisCfg *config.RedisConfig
	logger   zerolog.Logger
	hub      *hub.Hub
	service  *service.Service
	bridge   bridge.Bridge
	app      *fiber.App
	upgrader websocket.FastHTTPUpgrader
}

// NewChatServer creates an inactive chat server.
func NewChatServer(cfg *config.ServerConfig, logger zerolog.Logger) *ChatServer {
	return &ChatServer{
		cfg:    cfg,
		logger: logger.With().Str("component", "chat-server").Logger(),
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
	}
}

// WithRedis sets the Redis settings used by the bridge when
// ServerConfig.RedisBridge is enabled.
func (p *ChatServer) WithRedis(cfg *config.RedisConfig) *ChatServer {
	p.redisCfg = cfg
	return p
}

// IsActive reports whether Activate has run.
func (p *ChatServer) IsActive() bool { return p.active }

// Service exposes the chat service.
func (p *ChatServer) Service() *service.Service { return p.service }

// Activate initializes the hub, service and routes, and starts the event loop.
func (p *ChatServer) Activate() error {
	p.hub = hub.New(p.cfg, p.logger)
	p.service = service.New(p.hub, p.logger)
	p.hub.OnMessage(func(msg types.ChatMessage) {
		p.logger.Debug().Str("room_id", msg.RoomID).Str("message_id", msg.ID).Msg("message confirmed")
	})

	p.app = fiber.New(fiber.Config{AppName: "chatsync " + Version})
	p.RegisterRoutes(p.app)

	go p.hub.Run()

	if p.cfg.RedisBridge {
		p.initBridge()
	}

	p.active = true
	p.logger.Info().Str("version", Version).Msg("chat server activated")
	return nil
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func (p *ChatServer) initBridge() {
	cfg := p.redisCfg
	if cfg == nil {
		cfg = config.DefaultRedisConfig()
	}
	rb := bridge.NewRedisBridge(cfg, p.hub, p.logger)

	if err := rb.Start(); err != nil {
		p.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		_ = rb.Stop()
		return
	}

	p.bridge = rb
	p.hub.SetBridge(rb)
	p.logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
}

// Deactivate stops the bridge and hub event loop.
func (p *ChatServer) Deactivate() error {
	if p.bridge != nil {
		if err := p.bridge.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("bridge stop error")
		}
		p.bridge = nil
	}
	if p.hub != nil {
		p.hub.Stop()
	}
	p.active = false
	return nil
}
