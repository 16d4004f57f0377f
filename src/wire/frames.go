// Package wire encodes and decodes chat frames exchanged over the websocket.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/chatsync/src/types"
)

// ErrMalformedFrame is returned for inbound data that cannot be interpreted.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameType names the kind of a server frame.
type FrameType string

const (
	FrameMessage          FrameType = "message"
	FramePreviousMessages FrameType = "previous_messages"
	FrameSystemMessage    FrameType = "system_message"
	FrameUserJoined       FrameType = "user_joined"
	FrameUserLeft         FrameType = "user_left"
)

// Frame is an outbound server frame.
type Frame struct {
	Type      FrameType  `json:"type"`
	Data      any        `json:"data"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Inbound is a decoded server frame.
type Inbound struct {
	Type     FrameType
	Messages []types.ChatMessage
	Notice   *types.Notice
	// Dropped counts snapshot entries that were discarded as invalid.
	Dropped int
}

type envelope struct {
	Type      FrameType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// DecodeFrame parses one inbound server frame.
func DecodeFrame(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	in := Inbound{Type: env.Type}
	switch env.Type {
	case FrameMessage:
		msg, err := DecodeMessage(env.Data)
		if err != nil {
			return Inbound{}, err
		}
		if err := validateConfirmed(msg); err != nil {
			return Inbound{}, err
		}
		in.Messages = []types.ChatMessage{msg}

	case FramePreviousMessages:
		var raw []json.RawMessage
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return Inbound{}, fmt.Errorf("%w: previous_messages: %v", ErrMalformedFrame, err)
		}
		in.Messages = make([]types.ChatMessage, 0, len(raw))
		for _, r := range raw {
			msg, err := DecodeMessage(r)
			if err == nil {
				err = validateConfirmed(msg)
			}
			if err != nil {
				in.Dropped++
				continue
			}
			in.Messages = append(in.Messages, msg)
		}

	case FrameSystemMessage:
		n, err := decodeSystemNotice(env)
		if err != nil {
			return Inbound{}, err
		}
		in.Notice = n

	case FrameUserJoined, FrameUserLeft:
		n, err := decodePresenceNotice(env)
		if err != nil {
			return Inbound{}, err
		}
		in.Notice = n

	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
	return in, nil
}

func validateConfirmed(msg types.ChatMessage) error {
	switch {
	case msg.ID == "":
		return fmt.Errorf("%w: message without id", ErrMalformedFrame)
	case msg.Sender.Name == "":
		return fmt.Errorf("%w: message %s without sender", ErrMalformedFrame, msg.ID)
	case msg.CreatedAt.IsZero():
		return fmt.Errorf("%w: message %s without timestamp", ErrMalformedFrame, msg.ID)
	}
	return nil
}

func decodeSystemNotice(env envelope) (*types.Notice, error) {
	n := &types.Notice{Kind: types.NoticeSystem, Timestamp: parseOptionalTime(env.Timestamp)}

	var text string
	if err := json.Unmarshal(env.Data, &text); err == nil {
		n.Text = text
		return n, nil
	}
	var obj struct {
		Text    string `json:"text"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &obj); err != nil {
		return nil, fmt.Errorf("%w: system_message: %v", ErrMalformedFrame, err)
	}
	n.Text = obj.Text
	if n.Text == "" {
		n.Text = obj.Message
	}
	return n, nil
}

func decodePresenceNotice(env envelope) (*types.Notice, error) {
	var data struct {
		Username  string `json:"username"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	kind := types.NoticeUserJoined
	if env.Type == FrameUserLeft {
		kind = types.NoticeUserLeft
	}
	ts := data.Timestamp
	if ts == "" {
		ts = env.Timestamp
	}
	return &types.Notice{Kind: kind, User: data.Username, Timestamp: parseOptionalTime(ts)}, nil
}

// MessageFrame wraps a single confirmed message.
func MessageFrame(msg types.ChatMessage) Frame {
	return Frame{Type: FrameMessage, Data: msg}
}

// SnapshotFrame wraps the bulk snapshot sent right after a connection opens.
func SnapshotFrame(msgs []types.ChatMessage) Frame {
	if msgs == nil {
		msgs = []types.ChatMessage{}
	}
	return Frame{Type: FramePreviousMessages, Data: msgs}
}

// SystemFrame wraps a free-text system notice.
func SystemFrame(text string, at time.Time) Frame {
	return Frame{Type: FrameSystemMessage, Data: text, Timestamp: &at}
}

// PresenceFrame announces that username joined or left a room.
func PresenceFrame(joined bool, username string, at time.Time) Frame {
	t := FrameUserLeft
	if joined {
		t = FrameUserJoined
	}
	return Frame{
		Type: t,
		Data: map[string]string{
			"username":  username,
			"timestamp": at.UTC().Format(time.RFC3339Nano),
		},
	}
}

// NoticeFrame re-encodes a decoded notice.
func NoticeFrame(n types.Notice) Frame {
	switch n.Kind {
	case types.NoticeUserJoined:
		return PresenceFrame(true, n.User, n.Timestamp)
	case types.NoticeUserLeft:
		return PresenceFrame(false, n.User, n.Timestamp)
	default:
		return SystemFrame(n.Text, n.Timestamp)
	}
}
