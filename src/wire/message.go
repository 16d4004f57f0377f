package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchestra-mcp/chatsync/src/types"
)

// wireMessage accepts both the camelCase client shape and the snake_case
// shape produced by the dashboard backend.
type wireMessage struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Sender      *types.Sender  `json:"sender"`
	User        *types.Sender  `json:"user"`
	RoomID      string         `json:"roomId"`
	RoomName    string         `json:"room_name"`
	CreatedAt   string         `json:"createdAt"`
	CreatedAtSC string         `json:"created_at"`
	Type        string         `json:"type"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata"`
	ReplyTo     string         `json:"replyTo"`
	ReplyToSC   string         `json:"reply_to"`
}

// zone-less ISO-8601 as emitted by datetime.isoformat(); read as UTC.
const localISO = "2006-01-02T15:04:05.999999999"

// DecodeMessage parses a single chat message object. Identity fields are not
// required here; callers validate what they need.
func DecodeMessage(data []byte) (types.ChatMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return types.ChatMessage{}, fmt.Errorf("%w: message: %v", ErrMalformedFrame, err)
	}

	msg := types.ChatMessage{
		ID:       w.ID,
		Content:  w.Content,
		RoomID:   firstNonEmpty(w.RoomID, w.RoomName),
		Type:     types.MessageType(firstNonEmpty(w.Type, w.MessageType)),
		Metadata: w.Metadata,
		ReplyTo:  firstNonEmpty(w.ReplyTo, w.ReplyToSC),
	}
	switch {
	case w.Sender != nil:
		msg.Sender = *w.Sender
	case w.User != nil:
		msg.Sender = *w.User
	}

	if ts := firstNonEmpty(w.CreatedAt, w.CreatedAtSC); ts != "" {
		t, err := parseTime(ts)
		if err != nil {
			return types.ChatMessage{}, fmt.Errorf("%w: message %s: %v", ErrMalformedFrame, w.ID, err)
		}
		msg.CreatedAt = t
	}
	return msg, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localISO, s, time.UTC)
}

func parseOptionalTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
