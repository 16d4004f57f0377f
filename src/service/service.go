package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/orchestra-mcp/chatsync/src/hub"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrEmptyRoom      = errors.New("room name is required")
	ErrEmptyText      = errors.New("announcement text is required")
)

// Service provides the high-level chat room API used by the admin routes.
type Service struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

// New creates a new chat service backed by the given hub.
func New(h *hub.Hub, logger zerolog.Logger) *Service {
	return &Service{hub: h, logger: logger.With().Str("component", "chat-service").Logger()}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Announce sends a system notice to every participant of room.
func (s *Service) Announce(room, text string) error {
	room = strings.TrimSpace(room)
	text = strings.TrimSpace(text)
	if room == "" {
		return ErrEmptyRoom
	}
	if text == "" {
		return ErrEmptyText
	}
	s.hub.Announce(room, text)
	s.logger.Info().Str("room_id", room).Msg("announcement sent")
	return nil
}

// RoomHistory returns the retained messages of room, oldest first.
func (s *Service) RoomHistory(room string) ([]types.ChatMessage, error) {
	if strings.TrimSpace(room) == "" {
		return nil, ErrEmptyRoom
	}
	return s.hub.History(room), nil
}

// OnConnection registers a callback for new connections.
func (s *Service) OnConnection(cb func(types.ClientInfo)) {
	s.hub.OnConnection(cb)
}

// OnDisconnection registers a callback for disconnections.
func (s *Service) OnDisconnection(cb func(types.ClientInfo)) {
	s.hub.OnDisconnection(cb)
}

// GetConnectedClients returns IDs of all connected clients, sorted.
func (s *Service) GetConnectedClients() []string {
	ids := s.hub.ConnectedClients()
	sort.Strings(ids)
	return ids
}

// GetClients returns info for every connected client, ordered by room then id.
func (s *Service) GetClients() []types.ClientInfo {
	ids := s.hub.ConnectedClients()
	out := make([]types.ClientInfo, 0, len(ids))
	for _, id := range ids {
		if info := s.hub.ClientInfo(id); info != nil {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetRooms returns active rooms with participant counts.
func (s *Service) GetRooms() map[string]int {
	return s.hub.Rooms()
}

// GetClientInfo returns info for a connected client, or error.
func (s *Service) GetClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return info, nil
}
