package session

import (
	"errors"
	"unicode/utf8"

	"github.com/orchestra-mcp/chatsync/src/types"
)

// MaxMessageLength bounds the content of an outgoing message in bytes.
const MaxMessageLength = 5000

var (
	ErrMessageEmpty   = errors.New("message content cannot be empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrMessageInvalid = errors.New("message contains invalid characters")
	ErrNoSession      = errors.New("no active room session")
)

// Draft is a message the local participant is about to send.
type Draft struct {
	Content  string
	Type     types.MessageType
	Metadata map[string]any
	ReplyTo  string
}

// Validate checks the draft. Content may be empty only when metadata (for
// example an attachment reference) is present.
func (d Draft) Validate() error {
	if d.Content == "" && len(d.Metadata) == 0 {
		return ErrMessageEmpty
	}
	if len(d.Content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(d.Content) {
		return ErrMessageInvalid
	}
	return nil
}
