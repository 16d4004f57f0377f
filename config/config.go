package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ClientConfig holds settings for the chat synchronization client.
type ClientConfig struct {
	Endpoint        string        `env:"CHATSYNC_ENDPOINT"`
	ReconnectDelay  time.Duration `env:"CHATSYNC_RECONNECT_DELAY"`
	DialTimeout     time.Duration `env:"CHATSYNC_DIAL_TIMEOUT"`
	WriteTimeout    time.Duration `env:"CHATSYNC_WRITE_TIMEOUT"`
	ReadTimeout     time.Duration `env:"CHATSYNC_READ_TIMEOUT"`
	ReadBufferSize  int           `env:"CHATSYNC_READ_BUFFER"`
	WriteBufferSize int           `env:"CHATSYNC_WRITE_BUFFER"`
	NoticeLimit     int           `env:"CHATSYNC_NOTICE_LIMIT"`
}

// ServerConfig holds settings for the reference chat server.
type ServerConfig struct {
	Addr            string        `env:"CHATSERVER_ADDR"`
	PingInterval    time.Duration `env:"CHATSERVER_PING_INTERVAL"`
	WriteTimeout    time.Duration `env:"CHATSERVER_WRITE_TIMEOUT"`
	ReadTimeout     time.Duration `env:"CHATSERVER_READ_TIMEOUT"`
	MaxMessageSize  int64         `env:"CHATSERVER_MAX_MESSAGE_SIZE"`
	ReadBufferSize  int           `env:"CHATSERVER_READ_BUFFER"`
	WriteBufferSize int           `env:"CHATSERVER_WRITE_BUFFER"`
	HistoryLimit    int           `env:"CHATSERVER_HISTORY_LIMIT"`
	SendBuffer      int           `env:"CHATSERVER_SEND_BUFFER"`
	ShutdownTimeout time.Duration `env:"CHATSERVER_SHUTDOWN_TIMEOUT"`
	// RedisBridge relays room traffic to other instances through Redis.
	RedisBridge bool `env:"CHATSERVER_REDIS_BRIDGE"`
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Endpoint:        "ws://localhost:8000",
		ReconnectDelay:  3 * time.Second,
		DialTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     75 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		NoticeLimit:     20,
	}
}

// DefaultServerConfig returns the default chat server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            ":8000",
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  32 << 10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		HistoryLimit:    50,
		SendBuffer:      256,
		ShutdownTimeout: 15 * time.Second,
	}
}

// ClientConfigFromEnv overlays environment variables on the defaults.
func ClientConfigFromEnv() (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse client env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the socket cannot run with. A zero ReadTimeout
// disables the read deadline.
func (c *ClientConfig) Validate() error {
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("read timeout must not be negative, got %s", c.ReadTimeout)
	}
	return nil
}

// ServerConfigFromEnv overlays environment variables on the defaults.
func ServerConfigFromEnv() (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse server env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects non-positive keepalive and timeout settings.
func (c *ServerConfig) Validate() error {
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %s", c.PingInterval)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("read timeout must not be negative, got %s", c.ReadTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	return nil
}

// HTTPReadTimeout is the server's request read timeout: ReadTimeout when
// set, otherwise twice the ping interval.
func (c *ServerConfig) HTTPReadTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return 2 * c.PingInterval
}
