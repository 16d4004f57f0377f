package bridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/orchestra-mcp/chatsync/src/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayed struct {
	room  string
	frame []byte
}

// mockBroadcastTarget records frames forwarded from the bridge.
type mockBroadcastTarget struct {
	mu       sync.Mutex
	received []relayed
}

func (m *mockBroadcastTarget) BroadcastToLocal(room string, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, relayed{room: room, frame: frame})
}

func (m *mockBroadcastTarget) all() []relayed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]relayed(nil), m.received...)
}

func testRedisConfig(t *testing.T) *config.RedisConfig {
	t.Helper()
	s := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Addr = s.Addr()
	return cfg
}

func startBridge(t *testing.T, cfg *config.RedisConfig, target BroadcastTarget) *RedisBridge {
	t.Helper()
	b := NewRedisBridge(cfg, target, zerolog.Nop())
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func TestRedisEnvelopeSerialization(t *testing.T) {
	frame, err := json.Marshal(wire.SystemFrame("maintenance", time.Now().Truncate(time.Second)))
	require.NoError(t, err)

	env := redisEnvelope{InstanceID: "instance-abc", Room: "general", Frame: frame}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded redisEnvelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "instance-abc", decoded.InstanceID)
	assert.Equal(t, "general", decoded.Room)

	in, err := wire.DecodeFrame(decoded.Frame)
	require.NoError(t, err)
	assert.Equal(t, "maintenance", in.Notice.Text)
}

func TestRedisBridgeRelaysBetweenInstances(t *testing.T) {
	cfg := testRedisConfig(t)
	local := &mockBroadcastTarget{}
	remote := &mockBroadcastTarget{}
	b1 := startBridge(t, cfg, local)
	_ = startBridge(t, cfg, remote)

	msg := types.ChatMessage{
		ID:        "m1",
		Content:   "across nodes",
		Sender:    types.Sender{ID: "c1", Name: "alice"},
		RoomID:    "general",
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Type:      types.MessageText,
	}
	require.NoError(t, b1.Publish("general", wire.MessageFrame(msg)))

	require.Eventually(t, func() bool { return len(remote.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	got := remote.all()[0]
	assert.Equal(t, "general", got.room)
	in, err := wire.DecodeFrame(got.frame)
	require.NoError(t, err)
	require.Len(t, in.Messages, 1)
	assert.Equal(t, msg, in.Messages[0])

	// The publishing instance skips its own frames.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, local.all())
}

func TestRedisBridgeAvailability(t *testing.T) {
	cfg := testRedisConfig(t)
	b := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	assert.False(t, b.Available())

	require.NoError(t, b.Start())
	assert.True(t, b.Available())

	require.NoError(t, b.Stop())
	assert.False(t, b.Available())
}

func TestRedisBridgeStartFailsWithoutRedis(t *testing.T) {
	cfg := config.DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	b := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	t.Cleanup(func() { _ = b.Stop() })

	assert.Error(t, b.Start())
	assert.False(t, b.Available())
}

func TestRedisBridgeInstanceIDUnique(t *testing.T) {
	cfg := config.DefaultRedisConfig()
	b1 := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	b2 := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	assert.NotEqual(t, b1.instanceID, b2.instanceID)
}
