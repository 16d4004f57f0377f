package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/orchestra-mcp/chatsync/src/session"
	"github.com/orchestra-mcp/chatsync/src/types"
)

// renderer prints what changed between successive views.
type renderer struct {
	out      io.Writer
	room     string
	state    types.ConnectionState
	messages map[string]bool
	notices  map[types.Notice]bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) reset(room string) {
	r.room = room
	r.state = types.StateIdle
	r.messages = make(map[string]bool)
	r.notices = make(map[types.Notice]bool)
}

func (r *renderer) render(v session.View) {
	if r.messages == nil || v.RoomID != r.room {
		r.reset(v.RoomID)
		if v.RoomID != "" {
			fmt.Fprintf(r.out, "== #%s as %s ==\n", v.RoomID, v.Identity.Name)
		}
	}
	if v.State != r.state {
		r.state = v.State
		fmt.Fprintf(r.out, "-- %s\n", v.State)
	}
	for _, n := range v.Notices {
		if r.notices[n] {
			continue
		}
		r.notices[n] = true
		fmt.Fprintf(r.out, "** %s\n", noticeText(n))
	}
	for _, m := range v.Messages {
		if m.ID != "" && r.messages[m.ID] {
			continue
		}
		r.messages[m.ID] = true
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Sender.Name, messageText(m))
	}
}

func noticeText(n types.Notice) string {
	switch n.Kind {
	case types.NoticeUserJoined:
		return n.User + " joined"
	case types.NoticeUserLeft:
		return n.User + " left"
	default:
		return n.Text
	}
}

func messageText(m types.ChatMessage) string {
	if m.Content == "" && m.Type != "" {
		return "<" + string(m.Type) + ">"
	}
	return m.Content
}

// chat is the subset of the session controller driven by typed input.
type chat interface {
	Activate(roomID string, identity types.Identity)
	Send(content string) (types.ChatMessage, error)
}

// handleLine applies one line of input and reports whether to quit.
func handleLine(c chat, identity types.Identity, line string, errOut io.Writer) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/room" || strings.HasPrefix(line, "/room "):
		room := strings.TrimSpace(strings.TrimPrefix(line, "/room"))
		if room == "" {
			fmt.Fprintln(errOut, "! usage: /room <name>")
			return false
		}
		c.Activate(room, identity)
		return false
	}
	if _, err := c.Send(line); err != nil {
		fmt.Fprintf(errOut, "! %v\n", err)
	}
	return false
}
