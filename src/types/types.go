package types

import "time"

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageFile       MessageType = "file"
	MessageSystem     MessageType = "system"
	MessageAIResponse MessageType = "ai_response"
)

// Sender identifies the author of a message.
type Sender struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ChatMessage is one entry of a room's message sequence.
type ChatMessage struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Sender    Sender         `json:"sender"`
	RoomID    string         `json:"roomId"`
	CreatedAt time.Time      `json:"createdAt"`
	Type      MessageType    `json:"type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ReplyTo   string         `json:"replyTo,omitempty"`
}

// Identity is an already-validated chat participant.
type Identity struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Sender returns the sender descriptor for messages authored by i.
func (i Identity) Sender() Sender {
	return Sender{ID: i.ID, Name: i.Name}
}

// NoticeKind classifies a status notice.
type NoticeKind string

const (
	NoticeSystem     NoticeKind = "system"
	NoticeUserJoined NoticeKind = "user_joined"
	NoticeUserLeft   NoticeKind = "user_left"
)

// Notice is a server status notice. Notices are never part of the rendered
// message sequence.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Text      string     `json:"text,omitempty"`
	User      string     `json:"user,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ConnectionState is the lifecycle state of a room connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Ping() error
	Close() error
}

// ClientInfo holds metadata about a participant connected to the chat server.
type ClientInfo struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	ConnectedAt time.Time `json:"connected_at"`
}
