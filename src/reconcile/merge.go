// Package reconcile merges optimistic local messages with messages delivered
// by the transport into one ordered, duplicate-free sequence.
package reconcile

import (
	"slices"

	"github.com/orchestra-mcp/chatsync/src/types"
)

// Merge returns local and remote combined, de-duplicated by id and ordered by
// CreatedAt. A remote copy replaces any local copy with the same id, and the
// last remote copy wins when remote repeats an id. Each surviving message
// keeps the position of its id's first occurrence, so equal timestamps never
// reorder between calls. Messages without an id are never collapsed.
//
// Merge does not modify its inputs and always returns a fresh slice.
func Merge(local, remote []types.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(local)+len(remote))
	pos := make(map[string]int, len(local)+len(remote))

	add := func(msg types.ChatMessage, authoritative bool) {
		if msg.ID == "" {
			out = append(out, msg)
			return
		}
		if i, ok := pos[msg.ID]; ok {
			if authoritative {
				out[i] = msg
			}
			return
		}
		pos[msg.ID] = len(out)
		out = append(out, msg)
	}

	for _, msg := range local {
		add(msg, false)
	}
	for _, msg := range remote {
		add(msg, true)
	}

	slices.SortStableFunc(out, func(a, b types.ChatMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}
