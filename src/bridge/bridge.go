package bridge

import "github.com/orchestra-mcp/chatsync/src/wire"

// Bridge defines the interface for cross-instance room broadcasting.
// Implementations relay room frames between multiple chat server instances.
type Bridge interface {
	// Publish sends a room frame to all other instances via the bridge.
	Publish(room string, frame wire.Frame) error

	// Start begins listening for frames from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive frames from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(room string, frame []byte)
}
