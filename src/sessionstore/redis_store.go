// Package sessionstore resolves chat participant identities from sessions
// kept in Redis.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found or expired")

// DefaultTTL applies when Set is called without a positive ttl.
const DefaultTTL = 24 * time.Hour

// Record is the data stored for each session.
type Record struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore implements session lookup using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.SessionPrefix), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Set stores rec under sessionID for ttl.
func (s *RedisStore) Set(ctx context.Context, sessionID string, rec Record, ttl time.Duration) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) lookup(ctx context.Context, sessionID string) (Record, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return rec, nil
}

// Get returns the user id bound to sessionID.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (string, error) {
	rec, err := s.lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// Identity resolves sessionID to a chat identity. The display name falls
// back to the user id.
func (s *RedisStore) Identity(ctx context.Context, sessionID string) (types.Identity, error) {
	rec, err := s.lookup(ctx, sessionID)
	if err != nil {
		return types.Identity{}, err
	}
	name := strings.TrimSpace(rec.DisplayName)
	if name == "" {
		name = rec.UserID
	}
	if name == "" {
		return types.Identity{}, fmt.Errorf("session %s has no user", sessionID)
	}
	return types.Identity{ID: rec.UserID, Name: name}, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
