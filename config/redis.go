package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// RedisConfig holds connection settings shared by the session store and the
// cross-instance room bridge.
type RedisConfig struct {
	Addr          string `env:"REDIS_ADDR"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB"`
	SessionPrefix string `env:"REDIS_SESSION_PREFIX"`
	ChannelPrefix string `env:"REDIS_CHANNEL_PREFIX"`
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:          "localhost:6379",
		SessionPrefix: "chatsync:session:",
		ChannelPrefix: "chatsync:rooms:",
	}
}

// RedisConfigFromEnv overlays environment variables on the defaults.
func RedisConfigFromEnv() (*RedisConfig, error) {
	cfg := DefaultRedisConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse redis env: %w", err)
	}
	return cfg, nil
}
