package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/wire"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisEnvelope wraps a room frame with the originating instance ID so that
// a node can skip its own published frames.
type redisEnvelope struct {
	InstanceID string          `json:"instance_id"`
	Room       string          `json:"room"`
	Frame      json.RawMessage `json:"frame"`
}

// RedisBridge relays room frames between server instances via Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        BroadcastTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance messaging.
func NewRedisBridge(cfg *config.RedisConfig, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    cfg.ChannelPrefix + "broadcast",
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the Redis broadcast channel and begins relaying frames.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return fmt.Errorf("redis bridge ping: %w", err)
	}

	sub := b.client.Subscribe(b.ctx, b.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis bridge subscribe: %w", err)
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish sends a room frame to all other instances via Redis.
func (b *RedisBridge) Publish(room string, frame wire.Frame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data, err := json.Marshal(redisEnvelope{
		InstanceID: b.instanceID,
		Room:       room,
		Frame:      raw,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.client.Publish(b.ctx, b.channel, data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// listen reads frames from the Redis subscription and forwards them to the local hub.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRedisMessage(msg)
		case <-b.ctx.Done():
			return
		}
	}
}

// handleRedisMessage decodes an envelope and forwards non-self frames to the hub.
func (b *RedisBridge) handleRedisMessage(msg *redis.Message) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip frames that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("room_id", env.Room).
		Msg("relaying frame from redis")

	b.hub.BroadcastToLocal(env.Room, env.Frame)
}
